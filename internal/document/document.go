package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Document is the on-disk envelope around the synchronized payload.
// The JSON field names are the wire format shared with the browser side
// and must not change.
type Document struct {
	// Timestamp is set to the current time on every write.
	Timestamp time.Time `json:"timestamp"`

	// Version starts at 1 and increments exactly once per successful
	// write. It never decreases.
	Version int64 `json:"versao"`

	// Data is the payload. Only this field is visible to Load callers.
	Data map[string]any `json:"dados"`
}

// New creates a version-1 document holding data, stamped now.
// A nil data map is normalized to an empty one.
func New(data map[string]any) *Document {
	if data == nil {
		data = map[string]any{}
	}
	return &Document{
		Timestamp: time.Now(),
		Version:   1,
		Data:      data,
	}
}

// Next returns the successor document: version incremented by one, fresh
// timestamp, the given payload.
func (d *Document) Next(data map[string]any) *Document {
	if data == nil {
		data = map[string]any{}
	}
	return &Document{
		Timestamp: time.Now(),
		Version:   d.Version + 1,
		Data:      data,
	}
}

// Validate checks the envelope invariants.
func (d *Document) Validate() error {
	if d.Version < 1 {
		return fmt.Errorf("versao must be >= 1 (got %d)", d.Version)
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if d.Data == nil {
		return fmt.Errorf("dados is required")
	}
	return nil
}

// Read reads and parses a sync document from path.
func Read(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync document %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sync document %s: %w", path, err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}

	return &doc, nil
}

// Write writes a sync document to path as pretty-printed UTF-8 JSON,
// creating the parent directory if needed. The whole file is replaced in
// one write so concurrent readers see either the old or the new document,
// never a mix.
func Write(path string, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid sync document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sync directory: %w", err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync document: %w", err)
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write sync document %s: %w", path, err)
	}

	return nil
}

// ClonePayload deep-copies a payload by round-tripping it through JSON.
// It doubles as the serializability check: any value json.Marshal cannot
// encode is rejected here, before a provider is ever touched.
func ClonePayload(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON-serializable: %w", err)
	}

	clone := make(map[string]any, len(data))
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, fmt.Errorf("failed to clone payload: %w", err)
	}
	return clone, nil
}

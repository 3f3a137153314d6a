package document

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDocument_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		doc     Document
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid document",
			doc:     Document{Timestamp: now, Version: 1, Data: map[string]any{"a": 1}},
			wantErr: false,
		},
		{
			name:    "zero version",
			doc:     Document{Timestamp: now, Version: 0, Data: map[string]any{}},
			wantErr: true,
			errMsg:  "versao must be >= 1",
		},
		{
			name:    "negative version",
			doc:     Document{Timestamp: now, Version: -3, Data: map[string]any{}},
			wantErr: true,
			errMsg:  "versao must be >= 1",
		},
		{
			name:    "missing timestamp",
			doc:     Document{Version: 1, Data: map[string]any{}},
			wantErr: true,
			errMsg:  "timestamp is required",
		},
		{
			name:    "nil data",
			doc:     Document{Timestamp: now, Version: 1},
			wantErr: true,
			errMsg:  "dados is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// TestDocument_Next verifies the successor carries the new payload and the
// incremented version.
func TestDocument_Next(t *testing.T) {
	doc := New(map[string]any{"a": 1})
	if doc.Version != 1 {
		t.Fatalf("New() version = %d, want 1", doc.Version)
	}

	next := doc.Next(map[string]any{"a": 2})
	if next.Version != 2 {
		t.Errorf("Next() version = %d, want 2", next.Version)
	}
	if next.Data["a"] != 2 {
		t.Errorf("Next() data = %v, want a=2", next.Data)
	}
	if next.Timestamp.Before(doc.Timestamp) {
		t.Errorf("Next() timestamp %v is before predecessor %v", next.Timestamp, doc.Timestamp)
	}

	next = doc.Next(nil)
	if next.Data == nil {
		t.Error("Next(nil) should normalize data to an empty map")
	}
}

// TestWriteRead verifies the round trip and that the file carries the wire
// field names.
func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sync.json")

	doc := New(map[string]any{"painel": "lateral", "contagem": float64(3)})
	if err := Write(path, doc); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	// The wire keys are fixed; check the raw bytes, not just the struct.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	for _, key := range []string{"timestamp", "versao", "dados"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("file missing wire key %q", key)
		}
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Read() version = %d, want 1", got.Version)
	}
	if !reflect.DeepEqual(got.Data, doc.Data) {
		t.Errorf("Read() data = %v, want %v", got.Data, doc.Data)
	}
}

// TestWrite_InvalidDocument verifies an invalid envelope is rejected
// before touching the filesystem.
func TestWrite_InvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")

	err := Write(path, &Document{Version: 0, Data: map[string]any{}})
	if err == nil {
		t.Fatal("Write() with version 0 should fail")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Write() should not create a file for an invalid document")
	}
}

// TestRead_Corrupt verifies a parse error surfaces with the path in the
// message.
func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	_, err := Read(path)
	if err == nil {
		t.Fatal("Read() on corrupt JSON should fail")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("Read() error should name the file, got: %v", err)
	}
}

func TestClonePayload(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{float64(1), float64(2)},
	}

	clone, err := ClonePayload(original)
	if err != nil {
		t.Fatalf("ClonePayload() failed: %v", err)
	}
	if !reflect.DeepEqual(clone, original) {
		t.Errorf("ClonePayload() = %v, want %v", clone, original)
	}

	// Mutating the clone must not reach the original.
	clone["nested"].(map[string]any)["k"] = "changed"
	if original["nested"].(map[string]any)["k"] != "v" {
		t.Error("ClonePayload() returned a shallow copy")
	}
}

// TestClonePayload_NotSerializable verifies the clone doubles as the
// serializability gate.
func TestClonePayload_NotSerializable(t *testing.T) {
	if _, err := ClonePayload(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("ClonePayload() should reject values JSON cannot encode")
	}

	clone, err := ClonePayload(nil)
	if err != nil {
		t.Fatalf("ClonePayload(nil) failed: %v", err)
	}
	if clone == nil || len(clone) != 0 {
		t.Errorf("ClonePayload(nil) = %v, want empty map", clone)
	}
}

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filter selects audit records. Zero-valued fields match everything.
type Filter struct {
	// Since and Until bound the record timestamp (inclusive).
	Since time.Time
	Until time.Time

	// Type matches the event type exactly.
	Type EventType

	// Severity matches the severity exactly.
	Severity Severity

	// Component matches as a case-insensitive substring.
	Component string

	// Limit caps the number of records returned. Zero means no cap.
	Limit int
}

func (f Filter) matches(rec Record) bool {
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	if f.Component != "" && !strings.Contains(strings.ToLower(rec.Component), strings.ToLower(f.Component)) {
		return false
	}
	return true
}

// Query flushes the buffer and returns matching records from all log
// files, newest first. Unreadable files are skipped with a log line so a
// single corrupt rotation cannot hide the rest of the trail.
func (t *Trail) Query(f Filter) ([]Record, error) {
	if t == nil {
		return nil, nil
	}
	t.Flush()
	return QueryDir(t.cfg.Dir, t.cfg.FileBase, f, t.logger)
}

// QueryDir returns matching records from the audit files under dir,
// newest first, without opening a trail. Nothing is created or
// appended, so it is safe on a directory another process is writing.
// Unreadable files are skipped, with a note when logger is non-nil.
func QueryDir(dir, fileBase string, f Filter, logger *log.Logger) ([]Record, error) {
	paths, err := listFiles(dir, fileBase)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, path := range paths {
		recs, err := readRecords(path)
		if err != nil {
			if logger != nil {
				logger.Printf("skipping unreadable audit file %s: %v", path, err)
			}
			continue
		}
		for _, rec := range recs {
			if f.matches(rec) {
				records = append(records, rec)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// Stats summarizes the audit trail.
type Stats struct {
	TotalEvents int
	Buffered    int
	LogFiles    int
	ByType      map[EventType]int
	BySeverity  map[Severity]int
	ByComponent map[string]int
}

// Stats flushes the buffer and aggregates counts over every stored record.
func (t *Trail) Stats() (Stats, error) {
	if t == nil {
		return StatsDir("", "")
	}
	t.Flush()

	stats, err := StatsDir(t.cfg.Dir, t.cfg.FileBase)
	if err != nil {
		return stats, err
	}

	t.mu.Lock()
	stats.Buffered = len(t.buffer)
	t.mu.Unlock()
	return stats, nil
}

// StatsDir aggregates counts over the audit files under dir without
// opening a trail.
func StatsDir(dir, fileBase string) (Stats, error) {
	stats := Stats{
		ByType:      map[EventType]int{},
		BySeverity:  map[Severity]int{},
		ByComponent: map[string]int{},
	}
	if dir == "" {
		return stats, nil
	}

	records, err := QueryDir(dir, fileBase, Filter{}, nil)
	if err != nil {
		return stats, err
	}
	stats.TotalEvents = len(records)
	for _, rec := range records {
		stats.ByType[rec.Type]++
		stats.BySeverity[rec.Severity]++
		stats.ByComponent[rec.Component]++
	}

	paths, err := listFiles(dir, fileBase)
	if err != nil {
		return stats, err
	}
	stats.LogFiles = len(paths)
	return stats, nil
}

// listFiles returns the active log plus rotated backups.
func listFiles(dir, fileBase string) ([]string, error) {
	pattern := filepath.Join(dir, fileBase+"*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// readRecords decodes one-record-per-line JSON from path.
func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Package loadtest drives synthetic write and poll traffic through the
// synchronization stack and reports latency percentiles.
//
// Writers push updates through a datasync.Manager while readers poll the
// published document over HTTP the way the browser does. After the run
// the document version is checked against the write count: the store
// increments the version by exactly one per successful save, so
//
//	final version == initial version + successful writes
//
// holds whenever the stack is correct.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sidesync/sidesync/internal/datasync"
	"github.com/sidesync/sidesync/internal/document"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

// defaultDocPath is where the polled document lives under the server
// root.
const defaultDocPath = "/data/sync.json"

// LatencyStats aggregates per-operation latencies. Count covers every
// attempted operation, failures included; a failed operation still costs
// its duration, so latencies cover failures too.
type LatencyStats struct {
	Count  int
	Errors int

	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
}

// Config wires the harness into a running stack.
type Config struct {
	// Manager receives every write. Required.
	Manager *datasync.Manager

	// Provider is the store underneath the manager, used for the
	// version check around the run. Required.
	Provider provider.Provider

	// URL is the web server base URL readers poll. Required when the
	// scenario has readers.
	URL string

	// DocPath is the document path under URL. Empty means
	// "/data/sync.json".
	DocPath string

	// Logger receives progress output. Nil means a prefixed stderr
	// logger.
	Logger *log.Logger
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario Scenario

	Writes LatencyStats
	Reads  LatencyStats

	// InitialVersion and FinalVersion are the document versions around
	// the run; ExpectedVersion is initial plus successful writes.
	InitialVersion  int64
	FinalVersion    int64
	ExpectedVersion int64

	Elapsed time.Duration
}

// VersionOK reports whether the store's versioning invariant held over
// the run.
func (r *Result) VersionOK() bool {
	return r.FinalVersion == r.ExpectedVersion
}

// report carries one worker's samples back to the collector.
type report struct {
	durations []time.Duration
	errors    int
}

// Run executes the scenario against the given stack. Writers and
// readers run concurrently; readers keep polling until the last writer
// finishes. Canceling ctx stops the run early, and the version check
// still holds over whatever completed.
func Run(ctx context.Context, cfg Config, s Scenario) (*Result, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if cfg.Manager == nil || cfg.Provider == nil {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"load test needs a manager and a provider", nil)
	}
	if s.Readers > 0 && cfg.URL == "" {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"scenario has readers but no server URL to poll", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}
	docPath := cfg.DocPath
	if docPath == "" {
		docPath = defaultDocPath
	}
	docURL := cfg.URL + docPath

	initial, err := cfg.Provider.Version()
	if err != nil {
		return nil, err
	}

	logger.Printf("scenario %s: %d writers x %d updates, %d readers",
		s.Name, s.Writers, s.UpdatesPerWriter, s.Readers)
	start := time.Now()

	writersDone := make(chan struct{})
	readerReports := make(chan report, s.Readers)
	var readers sync.WaitGroup
	for i := 0; i < s.Readers; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			readerReports <- pollDocument(ctx, docURL, s.PollInterval(), writersDone)
		}()
	}

	writerReports := make(chan report, s.Writers)
	var writers sync.WaitGroup
	for i := 0; i < s.Writers; i++ {
		writers.Add(1)
		go func(id int) {
			defer writers.Done()
			writerReports <- runWriter(ctx, cfg.Manager, s, id)
		}(i)
	}

	writers.Wait()
	close(writersDone)
	readers.Wait()
	close(writerReports)
	close(readerReports)

	var writeDurations, readDurations []time.Duration
	writeErrors, readErrors := 0, 0
	for r := range writerReports {
		writeDurations = append(writeDurations, r.durations...)
		writeErrors += r.errors
	}
	for r := range readerReports {
		readDurations = append(readDurations, r.durations...)
		readErrors += r.errors
	}

	result := &Result{Scenario: s}
	result.Writes = computeLatencyStats(writeDurations, writeErrors)
	result.Reads = computeLatencyStats(readDurations, readErrors)

	final, err := cfg.Provider.Version()
	if err != nil {
		return nil, err
	}
	successful := result.Writes.Count - result.Writes.Errors
	result.InitialVersion = initial
	result.FinalVersion = final
	result.ExpectedVersion = initial + int64(successful)
	result.Elapsed = time.Since(start)

	if result.VersionOK() {
		logger.Printf("version check passed: %d -> %d after %d successful writes",
			initial, final, successful)
	} else {
		logger.Printf("version check FAILED: final version %d, want %d",
			final, result.ExpectedVersion)
	}
	return result, nil
}

// runWriter pushes the scenario's updates through the manager, one
// synthetic payload per update.
func runWriter(ctx context.Context, m *datasync.Manager, s Scenario, id int) report {
	// Deterministic per-writer seed keeps runs reproducible.
	rng := rand.New(rand.NewSource(int64(42 + id)))

	var rep report
	for seq := 0; seq < s.UpdatesPerWriter; seq++ {
		if ctx.Err() != nil {
			return rep
		}

		payload := syntheticPayload(rng, id, seq, s.PayloadKeys)
		start := time.Now()
		err := m.Update(payload)
		rep.durations = append(rep.durations, time.Since(start))
		if err != nil {
			rep.errors++
		}

		if d := s.WriteDelay(); d > 0 {
			time.Sleep(d)
		}
	}
	return rep
}

// pollDocument polls url until done closes, recording each request's
// latency. A version that moves backwards across parsed responses is an
// error; a response that does not parse is not, since a document caught
// mid-write self-resolves on the next poll.
func pollDocument(ctx context.Context, url string, interval time.Duration, done <-chan struct{}) report {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var rep report
	var lastVersion int64
	for {
		select {
		case <-done:
			return rep
		case <-ctx.Done():
			return rep
		case <-ticker.C:
		}

		start := time.Now()
		resp, err := client.Get(url)
		rep.durations = append(rep.durations, time.Since(start))
		if err != nil {
			rep.errors++
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			rep.errors++
			continue
		}

		var doc document.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			continue
		}
		if doc.Version < lastVersion {
			rep.errors++
			continue
		}
		lastVersion = doc.Version
	}
}

// syntheticPayload builds one writer update: identity fields plus the
// scenario's filler keys.
func syntheticPayload(rng *rand.Rand, writer, sequence, keys int) map[string]any {
	filler := make(map[string]any, keys)
	for i := 0; i < keys; i++ {
		filler[fmt.Sprintf("field_%d", i)] = rng.Intn(1 << 20)
	}
	return map[string]any{
		"writer":   writer,
		"sequence": sequence,
		"filler":   filler,
	}
}

// computeLatencyStats aggregates durations the usual way: sort once,
// index the percentiles.
func computeLatencyStats(durations []time.Duration, errors int) LatencyStats {
	stats := LatencyStats{Count: len(durations), Errors: errors}
	if len(durations) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Mean = sum / time.Duration(len(sorted))
	stats.P50 = sorted[len(sorted)*50/100]
	stats.P95 = sorted[len(sorted)*95/100]
	stats.P99 = sorted[len(sorted)*99/100]
	return stats
}

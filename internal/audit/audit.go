// Package audit records lifecycle and error events from the sync core as
// an append-only JSON log.
//
// The trail is an explicitly constructed service: components that emit
// events receive a *Trail from the process bootstrap, and a nil *Trail
// drops events silently, so audit wiring is always optional. Recording is
// fire-and-forget; it never blocks the caller beyond a buffer append.
// The buffer is flushed on a timer, when full, and immediately for
// CRITICAL events.
//
// Records are one JSON object per line:
//
//	{"id":"...","timestamp":"...","tipo_evento":"SYNC_ERRO","severidade":"ERROR",
//	 "componente":"datasync","mensagem":"...","detalhes":{...}}
//
// The field names are the wire format consumed by external log tooling
// and must not change.
package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType identifies what happened. The values are stable wire strings.
type EventType string

// Server lifecycle events.
const (
	EventServerStarted   EventType = "SERVIDOR_INICIADO"
	EventServerStopped   EventType = "SERVIDOR_PARADO"
	EventServerError     EventType = "SERVIDOR_ERRO"
	EventServerRecovered EventType = "SERVIDOR_RECUPERADO"
)

// Synchronization events.
const (
	EventSyncStarted   EventType = "SYNC_INICIADA"
	EventSyncSuccess   EventType = "SYNC_SUCESSO"
	EventSyncError     EventType = "SYNC_ERRO"
	EventSyncRetry     EventType = "SYNC_RETRY"
	EventSyncRecovered EventType = "SYNC_RECUPERADA"
)

// Configuration events.
const (
	EventConfigChanged EventType = "CONFIG_ALTERADA"
	EventConfigError   EventType = "CONFIG_ERRO"
)

// Security events.
const (
	EventAccessDenied     EventType = "ACESSO_NEGADO"
	EventSuspiciousAccess EventType = "TENTATIVA_ACESSO_SUSPEITA"
)

// System events.
const (
	EventSystemStarted       EventType = "SISTEMA_INICIADO"
	EventSystemStopped       EventType = "SISTEMA_PARADO"
	EventResourceUnavailable EventType = "RECURSO_INDISPONIVEL"
)

// Severity is the event severity level.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity converts a case-insensitive severity name into a
// Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SeverityInfo, nil
	case "WARNING":
		return SeverityWarning, nil
	case "ERROR":
		return SeverityError, nil
	case "CRITICAL":
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// rank orders severities for minimum-level filtering.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Record is one audit event.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"tipo_evento"`
	Severity  Severity       `json:"severidade"`
	Component string         `json:"componente"`
	Message   string         `json:"mensagem"`
	Details   map[string]any `json:"detalhes"`
}

// Config holds audit trail settings.
type Config struct {
	// Dir is the log directory, created if missing.
	Dir string

	// FileBase is the base name of the active log file (FileBase.json).
	FileBase string

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// MaxFiles is how many rotated files are kept.
	MaxFiles int

	// MinSeverity drops events below this level before buffering.
	MinSeverity Severity

	// BufferSize is the number of buffered records that forces a flush.
	BufferSize int

	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration

	// Logger receives diagnostic output and WARNING+ event echoes.
	// Nil means a prefixed stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns the default audit settings.
func DefaultConfig() Config {
	return Config{
		Dir:           "logs",
		FileBase:      "auditoria",
		MaxAgeDays:    30,
		MaxFiles:      30,
		MinSeverity:   SeverityInfo,
		BufferSize:    100,
		FlushInterval: 30 * time.Second,
	}
}

// Trail is the audit event sink. All methods are safe on a nil receiver.
type Trail struct {
	cfg    Config
	sink   *lumberjack.Logger
	logger *log.Logger

	mu     sync.Mutex
	buffer []Record
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Trail writing to cfg.Dir and starts its periodic flush.
// The caller must Close the trail to persist buffered records.
func New(cfg Config) (*Trail, error) {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.FileBase == "" {
		cfg.FileBase = def.FileBase
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = def.MaxAgeDays
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = def.MinSeverity
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[audit] ", log.LstdFlags)
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	t := &Trail{
		cfg:    cfg,
		logger: cfg.Logger,
		sink: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.FileBase+".json"),
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxFiles,
			LocalTime:  true,
		},
		done: make(chan struct{}),
	}

	t.wg.Add(1)
	go t.flushLoop()

	t.Record(EventSystemStarted, SeverityInfo, "audit", "audit trail started", map[string]any{
		"dir":         cfg.Dir,
		"buffer_size": cfg.BufferSize,
		"min_level":   string(cfg.MinSeverity),
	})

	return t, nil
}

// Record buffers one audit event. Events below the minimum severity are
// dropped; WARNING and above are echoed to the diagnostic logger. A full
// buffer or a CRITICAL event flushes immediately.
func (t *Trail) Record(eventType EventType, severity Severity, component, message string, details map[string]any) {
	if t == nil {
		return
	}
	if severity.rank() < t.cfg.MinSeverity.rank() {
		return
	}
	if details == nil {
		details = map[string]any{}
	}

	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Component: component,
		Message:   message,
		Details:   details,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.buffer = append(t.buffer, rec)

	if severity.rank() >= SeverityWarning.rank() {
		t.logger.Printf("%s [%s] %s", severity, component, message)
	}

	if len(t.buffer) >= t.cfg.BufferSize || severity == SeverityCritical {
		t.flushLocked()
	}
}

// Flush writes all buffered records to the sink. Write failures are
// logged; the unwritten tail stays buffered for the next attempt.
func (t *Trail) Flush() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
}

func (t *Trail) flushLocked() {
	if len(t.buffer) == 0 {
		return
	}

	written := 0
	for _, rec := range t.buffer {
		line, err := json.Marshal(rec)
		if err != nil {
			t.logger.Printf("dropping unencodable audit record: %v", err)
			written++
			continue
		}
		if _, err := t.sink.Write(append(line, '\n')); err != nil {
			t.logger.Printf("failed to write audit log: %v", err)
			break
		}
		written++
	}

	t.buffer = t.buffer[:copy(t.buffer, t.buffer[written:])]
}

// flushLoop drives the periodic flush until Close.
func (t *Trail) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Close records the shutdown event, stops the periodic flush, writes the
// remaining buffer, and closes the sink. Idempotent.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	// The final record bypasses Record(), which refuses closed trails.
	// It still honors the minimum severity.
	if SeverityInfo.rank() >= t.cfg.MinSeverity.rank() {
		t.buffer = append(t.buffer, Record{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Type:      EventSystemStopped,
			Severity:  SeverityInfo,
			Component: "audit",
			Message:   "audit trail stopped",
			Details:   map[string]any{"buffered": len(t.buffer)},
		})
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()

	t.mu.Lock()
	t.flushLocked()
	remaining := len(t.buffer)
	t.mu.Unlock()

	if err := t.sink.Close(); err != nil {
		return fmt.Errorf("failed to close audit sink: %w", err)
	}
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d audit records", remaining)
	}
	return nil
}

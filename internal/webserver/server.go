// Package webserver serves the synchronized content directory over HTTP
// with automatic port selection and an optional live-event endpoint.
//
// Start binds the preferred port, falling back through the configured
// alternates and then an upward scan when it is occupied, and verifies
// the server answers before reporting success. Stop drains in-flight
// requests with a bounded graceful shutdown. Both are idempotent.
//
// The port probe is a TCP connect: a port that looks free can still be
// taken by another process before the bind, in which case Start fails
// with SRV002 rather than retrying.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidesync/sidesync/internal/audit"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// scanRange is how many ports above the preferred port the fallback scan
// covers after the alternates are exhausted.
const scanRange = 100

// Stats is a point-in-time snapshot of server state and counters.
type Stats struct {
	Running        bool
	Port           int
	URL            string
	Dir            string
	Uptime         time.Duration
	RequestsServed int64
	RequestsDenied int64
	EventClients   int
}

// Server serves static files from the configured directory. Create one
// with New and drive it with Start and Stop.
type Server struct {
	cfg    Config
	logger *log.Logger
	audit  *audit.Trail

	served atomic.Int64
	denied atomic.Int64

	mu        sync.Mutex
	srv       *http.Server
	hub       *hub
	port      int
	alternate bool
	startedAt time.Time
	serveDone chan struct{}
	running   bool
}

// New validates cfg and returns a stopped server. Zero fields take
// defaults; invalid fields fail with a CFG004 error listing every
// violation.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if violations := cfg.validate(); len(violations) > 0 {
		return nil, syncerrors.NewValidation("webserver", violations)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[webserver] ", log.LstdFlags)
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		audit:  cfg.Audit,
	}, nil
}

// Start binds a port, begins serving the content directory, and returns
// the base URL once the server answers. Calling Start on a running
// server returns the current URL.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		url := s.urlLocked()
		s.logger.Printf("server already running at %s", url)
		return url, nil
	}

	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return "", syncerrors.NewServer(syncerrors.CodeStartFailure,
			"failed to create content directory "+s.cfg.Dir, err)
	}

	port, alternate, err := s.findPort()
	if err != nil {
		s.audit.Record(audit.EventResourceUnavailable, audit.SeverityCritical,
			"webserver", err.Error(), map[string]any{
				"porta_preferencial": s.cfg.PreferredPort,
			})
		return "", err
	}
	if alternate {
		s.logger.Printf("preferred port %d occupied, using %d", s.cfg.PreferredPort, port)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))
	if err != nil {
		serr := syncerrors.NewServer(syncerrors.CodeStartFailure,
			fmt.Sprintf("failed to bind port %d", port), err)
		s.audit.Record(audit.EventServerError, audit.SeverityError,
			"webserver", serr.Error(), map[string]any{"porta": port})
		return "", serr
	}

	var h *hub
	if s.cfg.Events {
		h = newHub(s.logger)
	}

	mux := http.NewServeMux()
	if h != nil {
		mux.Handle("/ws", h)
	}
	mux.Handle("/", s.staticHandler())

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("serve loop exited: %v", err)
		}
	}()

	// Give the accept loop a moment before probing it.
	time.Sleep(100 * time.Millisecond)

	if err := s.verifyAnswering(done, port); err != nil {
		srv.Close()
		<-done
		if h != nil {
			h.stop()
		}
		s.audit.Record(audit.EventServerError, audit.SeverityError,
			"webserver", err.Error(), map[string]any{"porta": port})
		return "", err
	}

	s.srv = srv
	s.hub = h
	s.port = port
	s.alternate = alternate
	s.serveDone = done
	s.startedAt = time.Now()
	s.running = true

	url := s.urlLocked()
	s.logger.Printf("server started at %s serving %s", url, s.cfg.Dir)
	s.audit.Record(audit.EventServerStarted, audit.SeverityInfo,
		"webserver", "web server started", map[string]any{
			"porta":              port,
			"url":                url,
			"host":               s.cfg.Host,
			"diretorio":          s.cfg.Dir,
			"porta_preferencial": s.cfg.PreferredPort,
			"porta_alternativa":  alternate,
		})

	return url, nil
}

// Stop drains in-flight requests and releases the port. A graceful
// shutdown that exceeds five seconds is forced closed; only a failed
// force close is reported as an error. Stopping a stopped server is a
// no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	srv, h, done := s.srv, s.hub, s.serveDone
	port, uptime := s.port, time.Since(s.startedAt)

	s.running = false
	s.srv = nil
	s.hub = nil
	s.serveDone = nil
	s.port = 0
	s.alternate = false

	if h != nil {
		h.stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stopErr error
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Printf("graceful shutdown failed, forcing close: %v", err)
		if err := srv.Close(); err != nil {
			stopErr = syncerrors.NewServer(syncerrors.CodeStopFailure,
				"failed to close server", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Printf("serve loop did not exit within 5s")
	}

	s.logger.Printf("server on port %d stopped after %s", port, uptime.Round(time.Millisecond))
	s.audit.Record(audit.EventServerStopped, audit.SeverityInfo,
		"webserver", "web server stopped", map[string]any{
			"porta":           port,
			"uptime_segundos": uptime.Seconds(),
		})

	return stopErr
}

// URL returns the base URL of the running server, or SRV004 when the
// server is stopped or its serve loop has died.
func (s *Server) URL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked() {
		return "", syncerrors.NewServer(syncerrors.CodeNotResponsive,
			"server is not running", nil)
	}
	return s.urlLocked(), nil
}

// Port returns the bound port, or 0 when the server is stopped.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.port
}

// Active reports whether the server is running and its serve loop is
// still alive.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// Stats returns current state and request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Running:        s.activeLocked(),
		Dir:            s.cfg.Dir,
		RequestsServed: s.served.Load(),
		RequestsDenied: s.denied.Load(),
	}
	if s.running {
		st.Port = s.port
		st.URL = s.urlLocked()
		st.Uptime = time.Since(s.startedAt)
	}
	if s.hub != nil {
		st.EventClients = s.hub.clientCount()
	}
	return st
}

func (s *Server) urlLocked() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.port)
}

func (s *Server) activeLocked() bool {
	if !s.running || s.serveDone == nil {
		return false
	}
	select {
	case <-s.serveDone:
		return false
	default:
		return true
	}
}

// findPort picks the first free port: the preferred one, then the
// alternates in order, then an upward scan above the preferred port.
// The returned flag reports whether a fallback was used.
func (s *Server) findPort() (port int, alternate bool, err error) {
	tried := []int{s.cfg.PreferredPort}
	if !s.portListening(s.cfg.PreferredPort) {
		return s.cfg.PreferredPort, false, nil
	}

	for _, p := range s.cfg.AlternatePorts {
		tried = append(tried, p)
		if !s.portListening(p) {
			return p, true, nil
		}
	}

	base := s.cfg.PreferredPort
	if base < 8080 {
		base = 8080
	}
	for p := base; p < base+scanRange; p++ {
		if slices.Contains(tried, p) {
			continue
		}
		tried = append(tried, p)
		if !s.portListening(p) {
			return p, true, nil
		}
	}

	return 0, false, syncerrors.NewResource(syncerrors.CodePortUnavailable,
		"no available port found", tried)
}

// portListening reports whether something accepts connections on the
// configured host at port.
func (s *Server) portListening(port int) bool {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// verifyAnswering confirms the serve loop is alive and the port accepts
// connections after startup.
func (s *Server) verifyAnswering(done chan struct{}, port int) error {
	select {
	case <-done:
		return syncerrors.NewServer(syncerrors.CodeStartFailure,
			"server exited during startup", nil)
	default:
	}
	if !s.portListening(port) {
		return syncerrors.NewServer(syncerrors.CodeStartFailure,
			fmt.Sprintf("server is not answering on port %d", port), nil)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/audit"
	"github.com/sidesync/sidesync/internal/config"
	"github.com/sidesync/sidesync/internal/datasync"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
	_ "github.com/sidesync/sidesync/internal/provider/bolt"
	_ "github.com/sidesync/sidesync/internal/provider/jsonfile"
	_ "github.com/sidesync/sidesync/internal/provider/sqlite"
	"github.com/sidesync/sidesync/internal/ui"
	"github.com/sidesync/sidesync/internal/webserver"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Start the web server and the sync coordinator",
	Long: `Start the static web server and the storage coordinator.

The server serves the configured content directory and answers until
interrupted. The coordinator opens the configured storage backend,
watches it for external changes, and retries failed saves with
exponential backoff. When the backend cannot start, the json file
backend takes over so the server still comes up.

Edits to the configuration file are validated and audited while the
server runs. Changed settings are noted in the log and take effect on
the next start.

Example usage:
  sidesync serve                              # sidesync.json in the working directory
  sidesync serve --config /etc/sidesync.json  # explicit configuration file`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger := log.New(os.Stderr, "[sidesync] ", log.LstdFlags)
	path := configPath(cmd)

	// The audit trail's own settings live in the file being loaded, so
	// a bootstrap read configures the trail before the watching loader
	// is built around it.
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	trail, err := newTrail(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open audit trail: %v\n", err)
		os.Exit(1)
	}

	loader := config.NewLoader(path, config.WithLogger(logger), config.WithAudit(trail))
	if cfg, err = loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kind, settings := storageSettings(cfg, logger)
	factory := provider.NewFactory(provider.WithFallback(provider.KindJSON), provider.WithLogger(logger))
	store, err := factory.CreateWithFallback(kind, settings, jsonSettings(cfg, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open storage: %v\n", err)
		os.Exit(1)
	}

	mgr, err := datasync.New(datasync.Config{
		Provider: store,
		Retry:    retryPolicy(cfg),
		Logger:   logger,
		Audit:    trail,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start coordinator: %v\n", err)
		os.Exit(1)
	}

	srv, err := webserver.New(serverConfig(cfg, logger, trail))
	if err != nil {
		mgr.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Storage changes and sync failures reach connected pages through
	// the server's event stream.
	mgr.OnChange(func(data map[string]any) { srv.PublishSyncUpdate(data) })
	mgr.OnError(func(message string, code syncerrors.Code) { srv.PublishSyncError(message, code) })

	url, err := srv.Start()
	if err != nil {
		mgr.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	started := time.Now()

	trail.Record(audit.EventSystemStarted, audit.SeverityInfo, "sidesync", "system started",
		map[string]any{"url": url, "diretorio": cfg.Server.Dir})

	fmt.Printf("%s sidesync serving %s\n", ui.RenderPass("✓"), ui.RenderAccent(url))
	fmt.Printf("   Content: %s\n", cfg.Server.Dir)
	fmt.Printf("   Storage: %s\n", store.Kind())
	if cfg.Server.Events {
		fmt.Printf("   Events:  ws://%s:%d/ws\n", cfg.Server.Host, srv.Port())
	}
	if trail != nil {
		fmt.Printf("   Audit:   %s\n", cfg.Audit.Dir)
	}
	fmt.Println("\nPress Ctrl+C to stop...")

	current := cfg
	if err := loader.Watch(func(next config.Config) {
		warnRestartChanges(logger, current, next)
		current = next
	}); err != nil {
		logger.Printf("configuration watch unavailable: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	if err := srv.Stop(); err != nil {
		logger.Printf("server shutdown: %v", err)
	}
	if err := mgr.Close(); err != nil {
		logger.Printf("coordinator shutdown: %v", err)
	}
	trail.Record(audit.EventSystemStopped, audit.SeverityInfo, "sidesync", "system stopped",
		map[string]any{"uptime_segundos": int64(time.Since(started).Seconds())})
	if err := trail.Close(); err != nil {
		logger.Printf("audit shutdown: %v", err)
	}
	fmt.Println("sidesync stopped")
}

// warnRestartChanges notes reloaded settings the running components
// were built from. Each component takes its configuration at
// construction, so a changed section applies on the next start.
func warnRestartChanges(logger *log.Logger, prev, next config.Config) {
	if !reflect.DeepEqual(next.Server, prev.Server) {
		logger.Printf("server settings changed, restart to apply")
	}
	if next.Provider != prev.Provider {
		logger.Printf("storage settings changed, restart to apply")
	}
	if next.Sync != prev.Sync {
		logger.Printf("sync retry settings changed, restart to apply")
	}
	if next.Audit != prev.Audit {
		logger.Printf("audit settings changed, restart to apply")
	}
	if next.Debug != prev.Debug {
		logger.Printf("debug flag changed, restart to apply")
	}
}

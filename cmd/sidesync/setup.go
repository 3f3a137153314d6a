package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/audit"
	"github.com/sidesync/sidesync/internal/config"
	"github.com/sidesync/sidesync/internal/datasync"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/webserver"
)

// configPath returns the --config flag value.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// quietLogger suppresses component log lines in one-shot commands, so
// their stdout stays clean.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// mustLoadConfig loads and validates the configuration file, exiting
// with the rendered error when that fails.
func mustLoadConfig(cmd *cobra.Command) config.Config {
	loader := config.NewLoader(configPath(cmd), config.WithLogger(quietLogger()))
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newTrail builds the audit trail from the configuration. Auditing
// disabled returns a nil trail, which every Trail method accepts.
func newTrail(cfg config.Config, logger *log.Logger) (*audit.Trail, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	sev, err := audit.ParseSeverity(cfg.Audit.MinSeverity)
	if err != nil {
		return nil, err
	}
	return audit.New(audit.Config{
		Dir:           cfg.Audit.Dir,
		FileBase:      cfg.Audit.FileBase,
		MaxAgeDays:    cfg.Audit.MaxAgeDays,
		MaxFiles:      cfg.Audit.MaxFiles,
		MinSeverity:   sev,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval.Duration(),
		Logger:        logger,
	})
}

// storageSettings maps the provider section to the configured backend
// kind and its construction settings.
func storageSettings(cfg config.Config, logger *log.Logger) (provider.Kind, provider.Settings) {
	kind := provider.Kind(cfg.Provider.Kind)
	return kind, settingsForKind(cfg, kind, logger)
}

// settingsForKind builds construction settings for one backend. Each
// kind has its own path key so switching backends keeps the others'
// data in place.
func settingsForKind(cfg config.Config, kind provider.Kind, logger *log.Logger) provider.Settings {
	s := provider.Settings{
		Debounce:     cfg.Provider.Debounce.Duration(),
		PollInterval: cfg.Provider.PollInterval.Duration(),
		Logger:       logger,
	}
	switch kind {
	case provider.KindSQLite:
		s.Path = cfg.Provider.SQLitePath
	case provider.KindBolt:
		s.Path = cfg.Provider.BoltPath
	default:
		s.Path = cfg.Provider.Path
	}
	return s
}

// jsonSettings returns the json backend settings, used as the fallback
// when the configured backend cannot start.
func jsonSettings(cfg config.Config, logger *log.Logger) provider.Settings {
	return provider.Settings{
		Path:         cfg.Provider.Path,
		Debounce:     cfg.Provider.Debounce.Duration(),
		PollInterval: cfg.Provider.PollInterval.Duration(),
		Logger:       logger,
	}
}

// retryPolicy maps the sync section to the coordinator's retry policy.
func retryPolicy(cfg config.Config) datasync.RetryPolicy {
	return datasync.RetryPolicy{
		MaxAttempts:  cfg.Sync.MaxAttempts,
		InitialDelay: cfg.Sync.InitialDelay.Duration(),
		Multiplier:   cfg.Sync.BackoffMultiplier,
		MaxDelay:     cfg.Sync.MaxDelay.Duration(),
		Jitter:       cfg.Sync.Jitter,
	}
}

// serverConfig maps the server section to the web server configuration.
func serverConfig(cfg config.Config, logger *log.Logger, trail *audit.Trail) webserver.Config {
	return webserver.Config{
		PreferredPort:  cfg.Server.PreferredPort,
		AlternatePorts: cfg.Server.AlternatePorts,
		Host:           cfg.Server.Host,
		Dir:            cfg.Server.Dir,
		IndexFile:      cfg.Server.IndexFile,
		Debug:          cfg.Debug,
		Timeout:        cfg.Server.Timeout.Duration(),
		CORS:           cfg.Server.CORS,
		CORSMethods:    cfg.Server.CORSMethods,
		CORSHeaders:    cfg.Server.CORSHeaders,
		CacheEnabled:   cfg.Server.CacheEnabled,
		CacheMaxAge:    cfg.Server.CacheMaxAge,
		ValidatePaths:  cfg.Server.ValidatePaths,
		Events:         cfg.Server.Events,
		Logger:         logger,
		Audit:          trail,
	}
}

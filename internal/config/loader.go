package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sidesync/sidesync/internal/audit"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// OverridesFile is the optional per-checkout TOML file looked up next to
// the main config file.
const OverridesFile = "sidesync.toml"

// Loader reads the config file with env and TOML overrides and watches
// it for changes.
type Loader struct {
	path   string
	logger *log.Logger
	trail  *audit.Trail

	mu       sync.Mutex
	v        *viper.Viper
	onChange func(Config)
	watching bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's diagnostic logger.
func WithLogger(l *log.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithAudit routes configuration events into the audit trail.
func WithAudit(t *audit.Trail) LoaderOption {
	return func(ld *Loader) {
		ld.trail = t
	}
}

// NewLoader creates a loader for the given config file path.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	ld := &Loader{
		path:   path,
		logger: log.New(os.Stderr, "[config] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load is the package-level convenience for a one-shot read.
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

// Path returns the main config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file with defaults, the TOML overrides, and
// SIDESYNC_* environment variables applied, then validates the result.
// A missing file is first written out with the defaults.
func (l *Loader) Load() (Config, error) {
	if err := l.ensureFile(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("json")
	v.SetEnvPrefix("SIDESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range flatten("", defaultMap()) {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return Config{}, syncerrors.NewConfig(syncerrors.CodeConfigParse,
				"failed to parse "+l.path, err)
		}
		return Config{}, syncerrors.NewConfig(syncerrors.CodeConfigNotFound,
			"failed to read "+l.path, err)
	}

	if err := l.mergeOverrides(v); err != nil {
		return Config{}, err
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()

	l.logger.Printf("configuration loaded from %s (provider=%s, port=%d)",
		l.path, cfg.Provider.Kind, cfg.Server.PreferredPort)
	return cfg, nil
}

// Watch reloads and revalidates the configuration whenever the file
// changes, delivering each valid result to fn. Invalid edits are logged
// and audited, never delivered. Load must have succeeded first. The
// watch lives for the rest of the process; calling Watch again replaces
// the callback.
func (l *Loader) Watch(fn func(Config)) error {
	if fn == nil {
		panic("config: Watch called with nil callback")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.v == nil {
		return syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"configuration must be loaded before watching", nil)
	}

	l.onChange = fn
	if l.watching {
		return nil
	}
	l.watching = true

	l.v.OnConfigChange(func(fsnotify.Event) { l.reload() })
	l.v.WatchConfig()
	l.logger.Printf("watching %s for changes", l.path)
	return nil
}

// Settings returns the effective merged settings for display.
func (l *Loader) Settings() (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.v == nil {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter,
			"configuration must be loaded first", nil)
	}
	return l.v.AllSettings(), nil
}

// Write encodes cfg as pretty-printed JSON at path, creating parent
// directories as needed.
func Write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return syncerrors.NewConfig(syncerrors.CodeConfigNotFound,
				"cannot create config directory "+dir, err)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return syncerrors.NewConfig(syncerrors.CodeConfigParse,
			"cannot encode configuration", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return syncerrors.NewConfig(syncerrors.CodeConfigNotFound,
			"cannot write configuration to "+path, err)
	}
	return nil
}

// ensureFile writes the default configuration when the file is absent,
// so a first run starts from a working file.
func (l *Loader) ensureFile() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return syncerrors.NewConfig(syncerrors.CodeConfigNotFound,
			"cannot access "+l.path, err)
	}

	if err := Write(l.path, Default()); err != nil {
		return err
	}

	l.logger.Printf("created default configuration at %s", l.path)
	l.trail.Record(audit.EventConfigChanged, audit.SeverityInfo,
		"config", "default configuration created", map[string]any{"arquivo": l.path})
	return nil
}

// mergeOverrides layers the optional sidesync.toml on top of the file
// values. Environment variables still win over both.
func (l *Loader) mergeOverrides(v *viper.Viper) error {
	tomlPath := filepath.Join(filepath.Dir(l.path), OverridesFile)
	if _, err := os.Stat(tomlPath); err != nil {
		return nil
	}

	var overrides map[string]any
	if _, err := toml.DecodeFile(tomlPath, &overrides); err != nil {
		return syncerrors.NewConfig(syncerrors.CodeConfigParse,
			"failed to parse "+tomlPath, err)
	}
	if err := v.MergeConfigMap(overrides); err != nil {
		return syncerrors.NewConfig(syncerrors.CodeConfigParse,
			"failed to merge "+tomlPath, err)
	}

	l.logger.Printf("merged overrides from %s", tomlPath)
	return nil
}

// reload runs on viper's watch goroutine after a file change event.
func (l *Loader) reload() {
	l.mu.Lock()
	v := l.v
	fn := l.onChange
	l.mu.Unlock()

	// Re-read the file directly: viper keeps the previous values when
	// the changed file does not parse, and that must not pass for a
	// successful reload. The re-read also drops the TOML overlay, so
	// it is merged back afterwards.
	err := v.ReadInConfig()
	if err == nil {
		err = l.mergeOverrides(v)
	}
	if err == nil {
		var cfg Config
		if cfg, err = decode(v); err == nil {
			err = cfg.Validate()
		}
		if err == nil {
			l.logger.Printf("configuration reloaded from %s", l.path)
			l.trail.Record(audit.EventConfigChanged, audit.SeverityInfo,
				"config", "configuration reloaded", map[string]any{"arquivo": l.path})
			fn(cfg)
			return
		}
	}

	l.logger.Printf("ignoring invalid configuration change: %v", err)
	l.trail.Record(audit.EventConfigError, audit.SeverityError,
		"config", "configuration change rejected", map[string]any{"erro": err.Error()})
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDuration(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, syncerrors.NewConfig(syncerrors.CodeConfigParse,
			"failed to decode configuration", err)
	}
	return cfg, nil
}

// secondsToDuration decodes bare numbers into Duration fields as whole
// seconds, the same rule Duration.UnmarshalJSON applies. Without it a
// numeric value would land as nanoseconds.
func secondsToDuration() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case float64:
			return Duration(time.Duration(n * float64(time.Second))), nil
		case int:
			return Duration(time.Duration(n) * time.Second), nil
		case int64:
			return Duration(time.Duration(n) * time.Second), nil
		}
		return data, nil
	}
}

// defaultMap renders Default() as nested primitives (durations become
// strings) for registering viper defaults.
func defaultMap() map[string]any {
	data, _ := json.Marshal(Default())
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// flatten walks nested maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

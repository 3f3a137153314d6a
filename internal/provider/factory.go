package provider

import (
	"fmt"
	"log"
	"os"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// Factory creates providers from registered backends.
//
// The factory supports an automatic mode that falls back to the JSON
// file backend when the configured backend cannot be built, so a broken
// database configuration degrades to the always-available file instead
// of taking the sync core down.
type Factory struct {
	// fallback is the backend used when the requested one fails
	fallback Kind

	// logger receives fallback warnings
	logger *log.Logger
}

// FactoryOption configures the factory
type FactoryOption func(*Factory)

// WithFallback sets the backend used when the requested one cannot be
// built. Default is KindJSON.
func WithFallback(k Kind) FactoryOption {
	return func(f *Factory) {
		f.fallback = k
	}
}

// WithLogger sets the factory's logger. Default logs to stderr with a
// "[provider] " prefix.
func WithLogger(l *log.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory creates a provider factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		fallback: KindJSON,
		logger:   log.New(os.Stderr, "[provider] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds a provider of the given kind, failing when the kind is
// unknown or its constructor rejects the settings.
func (f *Factory) Create(kind Kind, s Settings) (Provider, error) {
	constructor := getConstructor(kind)
	if constructor == nil {
		// The backend package was never linked in, so the kind has no
		// constructor to call.
		return nil, &syncerrors.Error{
			Code:      syncerrors.CodeMissingDependency,
			Component: "provider",
			Message:   fmt.Sprintf("no registered provider for kind %q (available: %v)", kind, RegisteredKinds()),
		}
	}

	p, err := constructor(s)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", kind, err)
	}
	return p, nil
}

// CreateWithFallback builds the requested backend, degrading to the
// fallback kind when that fails. An error is returned only when the
// fallback itself cannot be built.
func (f *Factory) CreateWithFallback(kind Kind, s Settings, fallbackSettings Settings) (Provider, error) {
	p, err := f.Create(kind, s)
	if err == nil {
		return p, nil
	}
	if kind == f.fallback {
		return nil, err
	}

	f.logger.Printf("falling back to %s provider: %v", f.fallback, err)
	return f.Create(f.fallback, fallbackSettings)
}

// New is the package-level convenience for one-off creation with default
// factory options.
func New(kind Kind, s Settings) (Provider, error) {
	return NewFactory().Create(kind, s)
}

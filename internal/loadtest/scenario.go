package loadtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// Scenario describes one load run. Pauses are plain milliseconds so
// scenario files stay trivially editable:
//
//	name: burst
//	writers: 8
//	updates_per_writer: 50
//	readers: 16
//	poll_interval_ms: 25
//	payload_keys: 10
type Scenario struct {
	// Name labels the run in logs and results.
	Name string `yaml:"name" json:"name"`

	// Writers is the number of concurrent writers; each pushes
	// UpdatesPerWriter updates through the coordinator.
	Writers          int `yaml:"writers" json:"writers"`
	UpdatesPerWriter int `yaml:"updates_per_writer" json:"updates_per_writer"`

	// Readers is the number of concurrent HTTP pollers. Zero disables
	// the read side.
	Readers int `yaml:"readers" json:"readers"`

	// PollIntervalMs is the pause between one reader's polls.
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`

	// WriteDelayMs is the pause between one writer's updates.
	WriteDelayMs int `yaml:"write_delay_ms" json:"write_delay_ms"`

	// PayloadKeys is the number of filler fields in each synthetic
	// payload.
	PayloadKeys int `yaml:"payload_keys" json:"payload_keys"`
}

// DefaultScenario returns a short mixed read/write run.
func DefaultScenario() Scenario {
	return Scenario{
		Name:             "default",
		Writers:          4,
		UpdatesPerWriter: 25,
		Readers:          8,
		PollIntervalMs:   50,
		PayloadKeys:      5,
	}
}

// LoadScenario reads a YAML scenario file. Omitted fields keep the
// default scenario's values; a missing name falls back to the file name.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, syncerrors.NewConfig(syncerrors.CodeConfigNotFound,
			fmt.Sprintf("cannot read scenario file %s", path), err)
	}

	s := DefaultScenario()
	s.Name = ""
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scenario{}, syncerrors.NewConfig(syncerrors.CodeConfigParse,
			fmt.Sprintf("cannot parse scenario file %s", path), err)
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, s.validate()
}

func (s Scenario) validate() error {
	var violations []string
	if s.Writers < 1 {
		violations = append(violations, fmt.Sprintf("writers must be at least 1, got %d", s.Writers))
	}
	if s.UpdatesPerWriter < 1 {
		violations = append(violations, fmt.Sprintf("updates_per_writer must be at least 1, got %d", s.UpdatesPerWriter))
	}
	if s.Readers < 0 {
		violations = append(violations, fmt.Sprintf("readers must not be negative, got %d", s.Readers))
	}
	if s.Readers > 0 && s.PollIntervalMs < 1 {
		violations = append(violations, fmt.Sprintf("poll_interval_ms must be at least 1, got %d", s.PollIntervalMs))
	}
	if s.WriteDelayMs < 0 {
		violations = append(violations, fmt.Sprintf("write_delay_ms must not be negative, got %d", s.WriteDelayMs))
	}
	if s.PayloadKeys < 0 {
		violations = append(violations, fmt.Sprintf("payload_keys must not be negative, got %d", s.PayloadKeys))
	}
	if len(violations) > 0 {
		return syncerrors.NewValidation("loadtest", violations)
	}
	return nil
}

// PollInterval returns the reader poll pause as a duration.
func (s Scenario) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// WriteDelay returns the pause between a writer's updates as a duration.
func (s Scenario) WriteDelay() time.Duration {
	return time.Duration(s.WriteDelayMs) * time.Millisecond
}

// TotalUpdates returns the number of updates the whole run will attempt.
func (s Scenario) TotalUpdates() int {
	return s.Writers * s.UpdatesPerWriter
}

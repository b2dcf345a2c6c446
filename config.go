package prediction

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/prediction/internal/core/correction"
	"github.com/zeusync/prediction/internal/core/rollback"
)

// Config tunes the prediction engine. The zero value is not usable directly;
// call DefaultConfig or load from YAML/JSON, then Validate.
type Config struct {
	// TickRate is the fixed simulation rate in ticks per second.
	TickRate int `json:"tick_rate" yaml:"tick_rate"`
	// MaxRollbackTicks caps how many ticks a single rollback may replay.
	// Targets further back are aborted.
	MaxRollbackTicks int32 `json:"max_rollback_ticks" yaml:"max_rollback_ticks"`
	// CorrectionWindowTicks is the visual blend length after a correction.
	// Zero disables smoothing; corrected values snap.
	CorrectionWindowTicks int32 `json:"correction_window_ticks" yaml:"correction_window_ticks"`
	// PreSpawnGraceTicks protects freshly pre-spawned entities from
	// rollback despawn for this many ticks after creation.
	PreSpawnGraceTicks int32 `json:"pre_spawn_grace_ticks" yaml:"pre_spawn_grace_ticks"`
	// StatePolicy selects how authoritative state updates trigger
	// rollbacks: check, always or disabled.
	StatePolicy rollback.Policy `json:"state_policy" yaml:"state_policy"`
	// InputPolicy selects how remote input disagreements trigger
	// rollbacks.
	InputPolicy rollback.Policy `json:"input_policy" yaml:"input_policy"`
	// DetectorWorkers caps parallel mismatch-check goroutines. 0 or 1
	// keeps detection sequential.
	DetectorWorkers int `json:"detector_workers" yaml:"detector_workers"`
	// HistoryCapacity bounds each per-component history buffer. 0 derives
	// a bound from MaxRollbackTicks.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`
	// Easing names the blend curve: linear, smoothstep or ease_out_quad.
	Easing string `json:"easing" yaml:"easing"`
	// LogLevel sets the engine logger level: debug, info, warn, error or
	// silent.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the tuning used when the host supplies nothing.
func DefaultConfig() Config {
	return Config{
		TickRate:              60,
		MaxRollbackTicks:      rollback.DefaultMaxRollbackTicks,
		CorrectionWindowTicks: 12,
		PreSpawnGraceTicks:    0,
		StatePolicy:           rollback.PolicyCheck,
		InputPolicy:           rollback.PolicyCheck,
		Easing:                "smoothstep",
		LogLevel:              "info",
	}
}

func (c *Config) withDefaults() {
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	if c.MaxRollbackTicks <= 0 {
		c.MaxRollbackTicks = rollback.DefaultMaxRollbackTicks
	}
	if c.HistoryCapacity <= 0 {
		// Enough records to seek anywhere inside the replay window, plus
		// slack for the current frame.
		c.HistoryCapacity = int(c.MaxRollbackTicks) + 8
	}
	if c.Easing == "" {
		c.Easing = "smoothstep"
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.TickRate < 0 {
		return fmt.Errorf("prediction: negative tick_rate %d", c.TickRate)
	}
	if c.CorrectionWindowTicks < 0 {
		return fmt.Errorf("prediction: negative correction_window_ticks %d", c.CorrectionWindowTicks)
	}
	if c.PreSpawnGraceTicks < 0 {
		return fmt.Errorf("prediction: negative pre_spawn_grace_ticks %d", c.PreSpawnGraceTicks)
	}
	if c.DetectorWorkers < 0 {
		return fmt.Errorf("prediction: negative detector_workers %d", c.DetectorWorkers)
	}
	if _, err := easingByName(c.Easing); err != nil {
		return err
	}
	return nil
}

// Step returns the fixed step duration derived from TickRate.
func (c Config) Step() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = 60
	}
	return time.Second / time.Duration(rate)
}

func (c Config) rollbackOptions() rollback.Options {
	return rollback.Options{
		MaxRollbackTicks:      c.MaxRollbackTicks,
		CorrectionWindowTicks: c.CorrectionWindowTicks,
		PreSpawnGraceTicks:    c.PreSpawnGraceTicks,
		StatePolicy:           c.StatePolicy,
		InputPolicy:           c.InputPolicy,
		Workers:               c.DetectorWorkers,
	}
}

func easingByName(name string) (correction.EaseFunc, error) {
	switch name {
	case "", "smoothstep":
		return correction.SmoothStep, nil
	case "linear":
		return correction.Linear, nil
	case "ease_out_quad":
		return correction.EaseOutQuad, nil
	default:
		return nil, fmt.Errorf("prediction: unknown easing %q", name)
	}
}

// LoadConfigYAML reads a Config from YAML, applying defaults for omitted
// fields.
func LoadConfigYAML(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("prediction: decode yaml config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfigJSON reads a Config from JSON, applying defaults for omitted
// fields.
func LoadConfigJSON(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("prediction: decode json config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

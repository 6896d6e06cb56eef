// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the tunable knobs of the coaching engine. Defaults mirror live
// tuning; everything is overridable via environment.
type Config struct {
	DBPath string `env:"COACH_DB_PATH" envDefault:"coach-engine.db"`

	EvaluateTimeout time.Duration `env:"COACH_EVALUATE_TIMEOUT" envDefault:"120ms"`
	PresetTimeout   time.Duration `env:"COACH_PRESET_TIMEOUT" envDefault:"180ms"`

	StateThrottle time.Duration `env:"COACH_STATE_THROTTLE" envDefault:"120ms"`

	QualityWindow          int           `env:"COACH_QUALITY_WINDOW" envDefault:"300"`
	ProfilePersistInterval time.Duration `env:"COACH_PROFILE_PERSIST_INTERVAL" envDefault:"10s"`

	// FrameInterval is the scripted-device emission cadence used by the demo
	// and replay surfaces.
	FrameInterval time.Duration `env:"COACH_FRAME_INTERVAL" envDefault:"50ms"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

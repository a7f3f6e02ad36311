// Package config loads the engine's static configuration — sample rate,
// polyphony, and the monophonic default — from YAML, the format
// doismellburning/samoyed uses for its device table. Instrument presets
// (oscillator shapes, envelope times, filter settings) are explicitly
// out of scope here: those arrive only over the command bus (spec §6),
// never from a config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine's static, boot-time configuration.
type Config struct {
	SampleRate int `yaml:"sample_rate"`
	Voices     int `yaml:"voices"`
	Monophonic bool `yaml:"monophonic"`
}

// Default returns the engine's power-on configuration (spec §3: 48kHz,
// MAX_NOTES=4 polyphony).
func Default() Config {
	return Config{
		SampleRate: 48000,
		Voices:     4,
		Monophonic: false,
	}
}

// Load reads and validates a YAML config file at path, filling any
// field the file omits from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against the engine's compile-time
// limits (spec §3: MAX_NOTES=4 polyphony slots, sample rate must be
// positive).
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Voices < 1 || c.Voices > 4 {
		return fmt.Errorf("voices must be in [1, 4], got %d", c.Voices)
	}
	return nil
}

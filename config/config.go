// Package config is the single source of truth for runtime configuration,
// the Go equivalent of config.py's AppConfig: a struct populated from
// environment variables, validated once at construction.
package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/iltempo/maestro/internal/telemetry"
)

// ErrConfig is wrapped by every validation failure in this package, so
// callers can distinguish a bad environment from other startup failures
// with errors.Is(err, config.ErrConfig).
var ErrConfig = errors.New("config: invalid configuration")

// Config mirrors config.py's MIDIConfig plus the module-specific logging
// levels from LoggingConfig. default_channel and the timing/lookahead
// fields are accepted for source fidelity (spec §6) but are informational:
// nothing in this module reads them.
type Config struct {
	DefaultBPM      float64 `envconfig:"MIDI_DEFAULT_BPM" default:"120.0"`
	DefaultVelocity uint8   `envconfig:"MIDI_DEFAULT_VELOCITY" default:"100"`
	DefaultChannel  uint8   `envconfig:"MIDI_DEFAULT_CHANNEL" default:"0"`
	DefaultDuration float64 `envconfig:"MIDI_DEFAULT_DURATION" default:"0.5"`

	// Reserved: the core uses the adaptive waiter unconditionally and does
	// not read ahead beyond immediate past-due events (spec §6).
	TimingPrecisionMs         float64 `envconfig:"MIDI_TIMING_PRECISION_MS" default:"1.0"`
	SchedulingLookaheadBeats  float64 `envconfig:"MIDI_SCHEDULING_LOOKAHEAD_BEATS" default:"0.1"`
	MaxSequenceLoops          int     `envconfig:"MIDI_MAX_SEQUENCE_LOOPS" default:"1000"`

	MaxWorkers int `envconfig:"MIDI_MAX_WORKERS" default:"4"`

	LogLevel           string `envconfig:"LOG_LEVEL" default:"INFO"`
	MIDILogLevel       string `envconfig:"MIDI_LOG_LEVEL"`
	SequencerLogLevel  string `envconfig:"SEQUENCER_LOG_LEVEL"`
	TransportLogLevel  string `envconfig:"TRANSPORT_LOG_LEVEL"`
	InstrumentLogLevel string `envconfig:"INSTRUMENT_LOG_LEVEL"`
}

// Load reads Config from the environment and validates it. An out-of-range
// value is a fatal ConfigError (spec §7), returned rather than panicking so
// the caller decides how fatal is expressed.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every range-bound field. Called once by Load; exported so
// a caller building a Config by hand (tests, embedders) can validate it too.
func (c *Config) Validate() error {
	if c.DefaultBPM < 60.0 || c.DefaultBPM > 300.0 {
		return fmt.Errorf("%w: MIDI_DEFAULT_BPM must be 60-300, got %v", ErrConfig, c.DefaultBPM)
	}
	if c.DefaultVelocity > 127 {
		return fmt.Errorf("%w: MIDI_DEFAULT_VELOCITY must be 0-127, got %d", ErrConfig, c.DefaultVelocity)
	}
	if c.DefaultChannel > 15 {
		return fmt.Errorf("%w: MIDI_DEFAULT_CHANNEL must be 0-15, got %d", ErrConfig, c.DefaultChannel)
	}
	if c.DefaultDuration <= 0 {
		return fmt.Errorf("%w: MIDI_DEFAULT_DURATION must be positive, got %v", ErrConfig, c.DefaultDuration)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: MIDI_MAX_WORKERS must be at least 1, got %d", ErrConfig, c.MaxWorkers)
	}
	for name, level := range map[string]string{
		"LOG_LEVEL":            c.LogLevel,
		"MIDI_LOG_LEVEL":       c.MIDILogLevel,
		"SEQUENCER_LOG_LEVEL":  c.SequencerLogLevel,
		"TRANSPORT_LOG_LEVEL":  c.TransportLogLevel,
		"INSTRUMENT_LOG_LEVEL": c.InstrumentLogLevel,
	} {
		if level == "" {
			continue
		}
		if !validLogLevels[level] {
			return fmt.Errorf("%w: invalid %s: %q", ErrConfig, name, level)
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true,
}

// TelemetryLevels projects the logging fields of Config into the shape
// internal/telemetry.New expects. A blank per-component level falls back to
// the root LogLevel.
func (c *Config) TelemetryLevels() telemetry.Levels {
	root := normalizeLevel(c.LogLevel)
	level := func(l string) string {
		if l == "" {
			return root
		}
		return normalizeLevel(l)
	}
	return telemetry.Levels{
		Root:       root,
		Transport:  level(c.TransportLogLevel),
		Sequencer:  level(c.SequencerLogLevel),
		MIDI:       level(c.MIDILogLevel),
		Instrument: level(c.InstrumentLogLevel),
	}
}

// normalizeLevel maps the Python-style "WARNING" spelling onto zap's "WARN".
func normalizeLevel(level string) string {
	if level == "WARNING" {
		return "WARN"
	}
	return level
}

package config

import (
	"errors"
	"testing"
)

func validConfig() Config {
	return Config{
		DefaultBPM:      120.0,
		DefaultVelocity: 100,
		DefaultChannel:  0,
		DefaultDuration: 0.5,
		MaxWorkers:      4,
		LogLevel:        "INFO",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidateRejectsOutOfRangeBPM(t *testing.T) {
	tests := []struct {
		name string
		bpm  float64
	}{
		{"too low", 59.9},
		{"too high", 300.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.DefaultBPM = tt.bpm
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() with BPM %v should fail", tt.bpm)
			}
		})
	}
}

func TestValidateRejectsBadVelocityChannelDuration(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultVelocity = 200
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with velocity 200 should fail")
	}

	cfg = validConfig()
	cfg.DefaultChannel = 20
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with channel 20 should fail")
	}

	cfg = validConfig()
	cfg.DefaultDuration = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with zero duration should fail")
	}

	cfg = validConfig()
	cfg.MaxWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with zero max workers should fail")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.SequencerLogLevel = "VERBOSE"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with bad log level should fail")
	}
}

func TestValidateErrorWrapsErrConfig(t *testing.T) {
	cfg := validConfig()
	cfg.MaxWorkers = 0
	err := cfg.Validate()
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Validate() error = %v, want wrapped ErrConfig", err)
	}
}

func TestTelemetryLevelsFallsBackToRoot(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "DEBUG"
	cfg.TransportLogLevel = "WARNING"

	levels := cfg.TelemetryLevels()
	if levels.Sequencer != "DEBUG" {
		t.Errorf("Sequencer level = %q, want fallback to root DEBUG", levels.Sequencer)
	}
	if levels.Transport != "WARN" {
		t.Errorf("Transport level = %q, want normalized WARN", levels.Transport)
	}
}

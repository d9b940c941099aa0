// Package telemetry builds the structured loggers shared across the
// transport, sequencer, midi and instrument packages. It is the Go
// equivalent of logging_config.py's get_logger(name) tree: one shared
// encoder/sink, with an independently leveled, named logger per component.
package telemetry

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels names the per-component log levels a Config loads from the
// environment (mirrors config.py's *_log_level fields). A blank field
// falls back to Root.
type Levels struct {
	Root       string
	Transport  string
	Sequencer  string
	MIDI       string
	Instrument string
}

// Set holds one independently leveled, named logger per core component,
// all writing through the same encoder and sink.
type Set struct {
	Transport  *zap.Logger
	Sequencer  *zap.Logger
	MIDI       *zap.Logger
	Instrument *zap.Logger
}

// New builds a Set from the given levels.
func New(levels Levels) (*Set, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	sink := zapcore.AddSync(os.Stdout)

	transportLogger, err := namedLogger(encoder, sink, "transport", orDefault(levels.Transport, levels.Root))
	if err != nil {
		return nil, err
	}
	sequencerLogger, err := namedLogger(encoder, sink, "sequencer", orDefault(levels.Sequencer, levels.Root))
	if err != nil {
		return nil, err
	}
	midiLogger, err := namedLogger(encoder, sink, "midi", orDefault(levels.MIDI, levels.Root))
	if err != nil {
		return nil, err
	}
	instrumentLogger, err := namedLogger(encoder, sink, "instrument", orDefault(levels.Instrument, levels.Root))
	if err != nil {
		return nil, err
	}

	return &Set{
		Transport:  transportLogger,
		Sequencer:  sequencerLogger,
		MIDI:       midiLogger,
		Instrument: instrumentLogger,
	}, nil
}

// Sync flushes any buffered log entries on every component logger. Call it
// during shutdown.
func (s *Set) Sync() error {
	var firstErr error
	for _, l := range []*zap.Logger{s.Transport, s.Sequencer, s.MIDI, s.Instrument} {
		if err := l.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func namedLogger(encoder zapcore.Encoder, sink zapcore.WriteSyncer, name, level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %s level: %w", name, err)
	}
	core := zapcore.NewCore(encoder, sink, lvl)
	return zap.New(core).Named(name), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func orDefault(level, fallback string) string {
	if level != "" {
		return level
	}
	return fallback
}

// NewNop returns a Set whose loggers discard everything. Useful for tests
// and for callers that don't want telemetry wired at all.
func NewNop() *Set {
	nop := zap.NewNop()
	return &Set{Transport: nop, Sequencer: nop, MIDI: nop, Instrument: nop}
}

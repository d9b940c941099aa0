// Package instrument provides a per-channel wrapper over the sequencer and
// raw MIDI sink: it applies transposition and velocity defaults, pins the
// outbound channel, and tracks which sequence IDs it created so it can
// cancel them later.
package instrument

import (
	"errors"
	"fmt"

	"github.com/iltempo/maestro/sequence"
)

// ErrValidation is wrapped by every malformed-parameter error in this
// package, matching sequence.ErrValidation's role one layer down.
var ErrValidation = errors.New("instrument: validation failed")

// NoteSink is the direct, duration-based note-playing capability an
// Instrument calls for PlayNote/StopNote — independent of the sequencer,
// mirroring how a raw MIDI controller can play a single note without
// going through sequence scheduling.
type NoteSink interface {
	PlayNote(pitch, velocity, channel uint8, durationSeconds float64) error
	StopNote(pitch, channel uint8) error
}

// SequenceSink is the sequence-playing capability an Instrument calls for
// PlaySequence/StopSequence.
type SequenceSink interface {
	ScheduleSequence(seq *sequence.Sequence) (int64, error)
	RemoveSequence(id int64)
}

// Config is the validated, immutable-after-construction configuration for
// one Instrument.
type Config struct {
	Channel         uint8
	Name            string
	DefaultVelocity uint8
	Transpose       int16
}

// NewConfig validates and constructs an InstrumentConfig.
func NewConfig(channel uint8, name string, defaultVelocity uint8, transpose int16) (Config, error) {
	if channel > 15 {
		return Config{}, fmt.Errorf("%w: channel must be 0-15, got %d", ErrValidation, channel)
	}
	if defaultVelocity > 127 {
		return Config{}, fmt.Errorf("%w: default velocity must be 0-127, got %d", ErrValidation, defaultVelocity)
	}
	if transpose < -127 || transpose > 127 {
		return Config{}, fmt.Errorf("%w: transpose must be -127 to 127, got %d", ErrValidation, transpose)
	}
	return Config{Channel: channel, Name: name, DefaultVelocity: defaultVelocity, Transpose: transpose}, nil
}

// DisplayName returns the configured name, or a channel-derived default if
// none was given.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("Instrument on Channel %d", c.Channel)
}

// Instrument wraps a (note-sink, sequence-sink) pair with a fixed Config.
// It never owns sequence storage; it records only the IDs it created so it
// can cancel them.
type Instrument struct {
	config       Config
	notes        NoteSink
	sequences    SequenceSink
	activeSeqIDs map[int64]struct{}
}

// New constructs an Instrument bound to the given sinks.
func New(config Config, notes NoteSink, sequences SequenceSink) *Instrument {
	return &Instrument{
		config:       config,
		notes:        notes,
		sequences:    sequences,
		activeSeqIDs: make(map[int64]struct{}),
	}
}

// Channel returns the instrument's fixed MIDI channel.
func (i *Instrument) Channel() uint8 { return i.config.Channel }

// Name returns the instrument's display name.
func (i *Instrument) Name() string { return i.config.DisplayName() }

// applyTranspose clamps pitch+transpose to the valid MIDI range [0,127]
// (spec §8 invariant 4): a C8+12 plays C8, never wraps or errors.
func (i *Instrument) applyTranspose(pitch uint8) uint8 {
	transposed := int16(pitch) + i.config.Transpose
	if transposed < 0 {
		return 0
	}
	if transposed > 127 {
		return 127
	}
	return uint8(transposed)
}

// PlayNote plays a single note on this instrument's channel. A nil velocity
// uses the configured default.
func (i *Instrument) PlayNote(pitch uint8, velocity *uint8, duration float64) error {
	v := i.config.DefaultVelocity
	if velocity != nil {
		v = *velocity
	}
	if v > 127 {
		return fmt.Errorf("%w: velocity must be 0-127, got %d", ErrValidation, v)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %v", ErrValidation, duration)
	}

	transposed := i.applyTranspose(pitch)
	return i.notes.PlayNote(transposed, v, i.config.Channel, duration)
}

// StopNote stops a specific note on this instrument's channel.
func (i *Instrument) StopNote(pitch uint8) error {
	transposed := i.applyTranspose(pitch)
	return i.notes.StopNote(transposed, i.config.Channel)
}

// PlaySequence deep-copies seq, applying transpose to every note and
// optionally overriding every note's channel with this instrument's
// channel, then delegates to the sequence sink and tracks the returned ID.
func (i *Instrument) PlaySequence(seq *sequence.Sequence, overrideChannel bool) (int64, error) {
	clone := seq.Clone()
	for idx, n := range clone.Notes {
		n.Pitch = i.applyTranspose(n.Pitch)
		if overrideChannel {
			n.Channel = i.config.Channel
		}
		clone.Notes[idx] = n
	}

	id, err := i.sequences.ScheduleSequence(clone)
	if err != nil {
		return 0, err
	}
	i.activeSeqIDs[id] = struct{}{}
	return id, nil
}

// StopSequence stops a specific sequence this instrument started, if it
// was in fact started by this instrument.
func (i *Instrument) StopSequence(id int64) {
	if _, ok := i.activeSeqIDs[id]; !ok {
		return
	}
	i.sequences.RemoveSequence(id)
	delete(i.activeSeqIDs, id)
}

// StopAllSequences stops every sequence this instrument started.
func (i *Instrument) StopAllSequences() {
	for id := range i.activeSeqIDs {
		i.sequences.RemoveSequence(id)
		delete(i.activeSeqIDs, id)
	}
}

// ActiveSequenceIDs returns a copy of the set of sequence IDs this
// instrument currently owns.
func (i *Instrument) ActiveSequenceIDs() []int64 {
	out := make([]int64, 0, len(i.activeSeqIDs))
	for id := range i.activeSeqIDs {
		out = append(out, id)
	}
	return out
}

// Package sequence defines the data model for a musical sequence: an
// ordered collection of beat-addressed notes. Values in this package are
// immutable after construction, except a Sequence's Loop flag, which may
// be changed at runtime.
package sequence

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every construction error in this package, so
// callers can distinguish malformed input from other failure kinds with
// errors.Is(err, sequence.ErrValidation).
var ErrValidation = errors.New("sequence: validation failed")

// Note is a single musical event. Pitch, velocity and channel follow MIDI
// ranges; duration and start_beat are expressed in beats.
type Note struct {
	Pitch     uint8
	Velocity  uint8
	Duration  float64
	StartBeat float64
	Channel   uint8
}

// NewNote validates and constructs a Note.
func NewNote(pitch, velocity uint8, duration, startBeat float64, channel uint8) (Note, error) {
	if pitch > 127 {
		return Note{}, fmt.Errorf("%w: pitch must be 0-127, got %d", ErrValidation, pitch)
	}
	if velocity > 127 {
		return Note{}, fmt.Errorf("%w: velocity must be 0-127, got %d", ErrValidation, velocity)
	}
	if channel > 15 {
		return Note{}, fmt.Errorf("%w: channel must be 0-15, got %d", ErrValidation, channel)
	}
	if duration <= 0 {
		return Note{}, fmt.Errorf("%w: duration must be positive, got %v", ErrValidation, duration)
	}
	if startBeat < 0 {
		return Note{}, fmt.Errorf("%w: start beat must be non-negative, got %v", ErrValidation, startBeat)
	}
	return Note{
		Pitch:     pitch,
		Velocity:  velocity,
		Duration:  duration,
		StartBeat: startBeat,
		Channel:   channel,
	}, nil
}

// ToTuple converts the note to the legacy (pitch, velocity, channel,
// duration) tuple representation.
func (n Note) ToTuple() NoteTuple {
	return NoteTuple{Pitch: n.Pitch, Velocity: n.Velocity, Channel: n.Channel, Duration: n.Duration}
}

// NoteTuple is the legacy four-field representation of a note, used by
// Sequencer.ScheduleTuples, the tuple-list entry point.
type NoteTuple struct {
	Pitch    uint8
	Velocity uint8
	Channel  uint8
	Duration float64
}

// Sequence is an ordered collection of one or more notes, with optional
// tempo override, loop flag, and name.
type Sequence struct {
	Notes []Note

	// TempoBPM is an optional, informational tempo override. The transport
	// is always global; nothing in this module reads TempoBPM to drive
	// scheduling (spec §3 invariant 3).
	TempoBPM *float64

	// Loop is mutable at runtime: flipping it from true to false is the
	// documented way to stop a looping sequence at its next boundary.
	Loop bool

	Name string
}

// New constructs a Sequence from notes, failing on an empty note list or a
// non-positive tempo override.
func New(notes []Note, tempoBPM *float64, loop bool, name string) (*Sequence, error) {
	if len(notes) == 0 {
		return nil, fmt.Errorf("%w: must contain at least one note", ErrValidation)
	}
	if tempoBPM != nil && *tempoBPM <= 0 {
		return nil, fmt.Errorf("%w: tempo override must be positive, got %v", ErrValidation, *tempoBPM)
	}
	out := make([]Note, len(notes))
	copy(out, notes)
	return &Sequence{Notes: out, TempoBPM: tempoBPM, Loop: loop, Name: name}, nil
}

// FromTuples builds a Sequence from a legacy list of (pitch, velocity,
// channel, duration) tuples. Successive tuples imply StartBeat as the
// running sum of prior durations. beatsPerNote is accepted but unused,
// kept for signature fidelity with the original schedule_sequence.
func FromTuples(tuples []NoteTuple, loop bool, name string, beatsPerNote float64) (*Sequence, error) {
	if len(tuples) == 0 {
		return nil, fmt.Errorf("%w: must contain at least one note", ErrValidation)
	}
	notes := make([]Note, 0, len(tuples))
	currentBeat := 0.0
	for i, t := range tuples {
		n, err := NewNote(t.Pitch, t.Velocity, t.Duration, currentBeat, t.Channel)
		if err != nil {
			return nil, fmt.Errorf("sequence: tuple %d: %w", i, err)
		}
		notes = append(notes, n)
		currentBeat += t.Duration
	}
	return New(notes, nil, loop, name)
}

// ToTuples converts the sequence back to the legacy tuple-list
// representation. Round-trips with FromTuples on channel and pitch when the
// original tuples were contiguous (spec §8 invariant 6).
func (s *Sequence) ToTuples() []NoteTuple {
	out := make([]NoteTuple, len(s.Notes))
	for i, n := range s.Notes {
		out[i] = n.ToTuple()
	}
	return out
}

// TotalDuration is the max over notes of (start_beat + duration).
func (s *Sequence) TotalDuration() float64 {
	total := 0.0
	for _, n := range s.Notes {
		if end := n.StartBeat + n.Duration; end > total {
			total = end
		}
	}
	return total
}

// Clone returns a deep copy of the sequence.
func (s *Sequence) Clone() *Sequence {
	notes := make([]Note, len(s.Notes))
	copy(notes, s.Notes)
	var tempo *float64
	if s.TempoBPM != nil {
		t := *s.TempoBPM
		tempo = &t
	}
	return &Sequence{Notes: notes, TempoBPM: tempo, Loop: s.Loop, Name: s.Name}
}

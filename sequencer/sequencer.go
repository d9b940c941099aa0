// Package sequencer expands musical sequences into paired note-on/note-off
// callbacks scheduled on a transport, and owns the self-rescheduling logic
// that implements looping.
package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/iltempo/maestro/sequence"
	"github.com/iltempo/maestro/transport"
)

// ErrNotFound is wrapped by every lookup failure on an unknown sequence ID.
var ErrNotFound = errors.New("sequencer: sequence not found")

// ErrValidation is wrapped by malformed-argument errors.
var ErrValidation = errors.New("sequencer: validation failed")

// NoteSink is the raw MIDI write capability the sequencer's scheduled
// closures call into directly: note-on and note-off, no duration, no
// timing — timing lives entirely in the transport.
type NoteSink interface {
	PlayNote(pitch, velocity, channel uint8) error
	StopNote(pitch, channel uint8) error
}

// sequenceState tracks one scheduled sequence's lifecycle. pending marks
// that a self-rescheduling "next iteration" critical event has been
// enqueued but not yet fired, so StartLoop after StopLoop knows whether it
// needs to kick off a fresh iteration itself.
type sequenceState struct {
	seq              *sequence.Sequence
	currentIteration int
	sequenceLength   float64
	pending          bool
}

// Sequencer owns a catalog of scheduled sequences keyed by a monotonic
// integer ID and expands them into transport events.
type Sequencer struct {
	tr   *transport.Transport
	sink NoteSink
	log  *zap.Logger

	mu     sync.Mutex
	active map[int64]*sequenceState
	nextID int64
}

// New constructs a Sequencer bound to a transport and a raw note sink.
func New(tr *transport.Transport, sink NoteSink, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		tr:     tr,
		sink:   sink,
		log:    logger,
		active: make(map[int64]*sequenceState),
	}
}

// ScheduleNote is the fire-and-forget single-note entry point.
func (s *Sequencer) ScheduleNote(beat float64, pitch, velocity, channel uint8, duration float64) {
	s.log.Debug("scheduling single note",
		zap.Float64("beat", beat), zap.Uint8("pitch", pitch), zap.Uint8("channel", channel))

	s.tr.ScheduleEvent(beat, func() {
		if err := s.sink.PlayNote(pitch, velocity, channel); err != nil {
			s.log.Warn("note_on failed", zap.Error(err))
		}
	}, true)
	s.tr.ScheduleEvent(beat+duration, func() {
		if err := s.sink.StopNote(pitch, channel); err != nil {
			s.log.Warn("note_off failed", zap.Error(err))
		}
	}, true)
}

// ScheduleSequence schedules a Sequence for playback starting at the
// transport's current beat, and returns its sequence ID.
func (s *Sequencer) ScheduleSequence(seq *sequence.Sequence) (int64, error) {
	if seq == nil {
		return 0, fmt.Errorf("%w: sequence must not be nil", ErrValidation)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	state := &sequenceState{
		seq:            seq,
		sequenceLength: seq.TotalDuration(),
	}
	s.active[id] = state
	s.mu.Unlock()

	startBeat := s.tr.CurrentBeat()
	s.log.Debug("scheduling sequence", zap.Int64("sequence_id", id), zap.Float64("start_beat", startBeat))
	s.scheduleIteration(id, startBeat)

	s.log.Info("sequence scheduled", zap.Int64("sequence_id", id), zap.Int("notes", len(seq.Notes)))
	return id, nil
}

// ScheduleTuples is the legacy list-of-tuples entry point; successive
// tuples imply start_beat as the running sum of prior durations.
// beatsPerNote is accepted but unused, kept for signature fidelity with
// the original schedule_sequence.
func (s *Sequencer) ScheduleTuples(tuples []sequence.NoteTuple, beatsPerNote float64) (int64, error) {
	seq, err := sequence.FromTuples(tuples, false, "", beatsPerNote)
	if err != nil {
		return 0, fmt.Errorf("sequencer: %w", err)
	}
	return s.ScheduleSequence(seq)
}

// scheduleIteration enqueues one pass over the sequence's notes starting at
// startBeat, and — if the sequence is still looping when this pass is laid
// down — a critical self-rescheduling event for the next iteration.
func (s *Sequencer) scheduleIteration(id int64, startBeat float64) {
	s.mu.Lock()
	state, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("cannot schedule iteration: sequence not found", zap.Int64("sequence_id", id))
		return
	}
	state.pending = false
	seq := state.seq
	s.mu.Unlock()

	for _, n := range seq.Notes {
		absoluteBeat := startBeat + n.StartBeat
		pitch, velocity, channel, duration := n.Pitch, n.Velocity, n.Channel, n.Duration

		s.tr.ScheduleEvent(absoluteBeat, func() {
			if err := s.sink.PlayNote(pitch, velocity, channel); err != nil {
				s.log.Warn("note_on failed", zap.Int64("sequence_id", id), zap.Error(err))
			}
		}, true)
		s.tr.ScheduleEvent(absoluteBeat+duration, func() {
			if err := s.sink.StopNote(pitch, channel); err != nil {
				s.log.Warn("note_off failed", zap.Int64("sequence_id", id), zap.Error(err))
			}
		}, true)
	}

	s.mu.Lock()
	state, ok = s.active[id]
	if ok && state.seq.Loop {
		state.currentIteration++
		state.pending = true
		nextStart := startBeat + state.sequenceLength
		s.mu.Unlock()

		s.log.Debug("sequence will loop",
			zap.Int64("sequence_id", id), zap.Int("iteration", state.currentIteration), zap.Float64("next_start", nextStart))

		s.tr.ScheduleCriticalEvent(nextStart, func() {
			s.mu.Lock()
			st, ok := s.active[id]
			stillLooping := ok && st.seq.Loop
			if ok && !stillLooping {
				st.pending = false
			}
			s.mu.Unlock()
			if stillLooping {
				s.scheduleIteration(id, nextStart)
			}
		})
	} else {
		s.mu.Unlock()
	}
}

// StartLoop enables looping for a sequence. If no iteration is currently
// pending (the sequence was stopped and has no self-reschedule in flight),
// it immediately re-invokes scheduleIteration from the transport's current
// beat rather than waiting for an external tick.
func (s *Sequencer) StartLoop(id int64) error {
	s.mu.Lock()
	state, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: no active sequence with ID %d", ErrNotFound, id)
	}
	wasLooping := state.seq.Loop
	pending := state.pending
	state.seq.Loop = true
	s.mu.Unlock()

	if wasLooping {
		s.log.Warn("sequence was already looping", zap.Int64("sequence_id", id))
		return nil
	}

	if !pending {
		startBeat := s.tr.CurrentBeat()
		s.log.Debug("restarting loop with immediate iteration",
			zap.Int64("sequence_id", id), zap.Float64("start_beat", startBeat))
		s.scheduleIteration(id, startBeat)
	}
	return nil
}

// StopLoop clears the loop flag; the currently in-flight iteration still
// plays to completion, but its self-reschedule closure will observe the
// cleared flag and decline to enqueue another.
func (s *Sequencer) StopLoop(id int64) error {
	s.mu.Lock()
	state, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: no active sequence with ID %d", ErrNotFound, id)
	}
	wasLooping := state.seq.Loop
	state.seq.Loop = false
	iteration := state.currentIteration
	s.mu.Unlock()

	if wasLooping {
		s.log.Info("loop stopped", zap.Int64("sequence_id", id), zap.Int("iteration", iteration))
	} else {
		s.log.Warn("sequence was not looping", zap.Int64("sequence_id", id))
	}
	return nil
}

// RemoveSequence forgets the sequencer-side state for an ID. Already
// enqueued transport events keep firing — their closures capture the raw
// note parameters by value, not a reference into this state map (spec §9(c)).
func (s *Sequencer) RemoveSequence(id int64) {
	s.mu.Lock()
	state, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.mu.Unlock()

	if ok {
		s.log.Info("sequence removed", zap.Int64("sequence_id", id), zap.Int("iteration", state.currentIteration))
	} else {
		s.log.Warn("cannot remove sequence: not found", zap.Int64("sequence_id", id))
	}
}

// ClearAllSequences forgets every tracked sequence state.
func (s *Sequencer) ClearAllSequences() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.active = make(map[int64]*sequenceState)
	s.mu.Unlock()

	if len(ids) > 0 {
		s.log.Info("cleared all sequences", zap.Int64s("sequence_ids", ids))
	} else {
		s.log.Debug("no sequences to clear")
	}
}

// AllNotesOff emits a note-off for every (channel, pitch) pair. Used on
// panic-stop.
func (s *Sequencer) AllNotesOff(portOpen bool) {
	s.log.Debug("sending all notes off on all channels")
	if !portOpen {
		s.log.Warn("cannot send all notes off: no MIDI port connected")
		return
	}

	sent := 0
	for channel := uint8(0); channel < 16; channel++ {
		for pitch := 0; pitch < 128; pitch++ {
			if err := s.sink.StopNote(uint8(pitch), channel); err != nil {
				s.log.Warn("note_off failed during all-notes-off", zap.Error(err))
			}
			sent++
		}
	}
	s.log.Debug("sent note_off messages across all channels", zap.Int("count", sent))
}

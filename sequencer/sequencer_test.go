package sequencer

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iltempo/maestro/sequence"
	"github.com/iltempo/maestro/transport"
)

type call struct {
	on      bool
	pitch   uint8
	channel uint8
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingSink) PlayNote(pitch, velocity, channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{on: true, pitch: pitch, channel: channel})
	return nil
}

func (r *recordingSink) StopNote(pitch, channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{on: false, pitch: pitch, channel: channel})
	return nil
}

func (r *recordingSink) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call, len(r.calls))
	copy(out, r.calls)
	return out
}

func newHarness(bpm float64) (*Sequencer, *recordingSink, *transport.Transport) {
	sink := &recordingSink{}
	tr := transport.New(bpm, 4, zap.NewNop())
	tr.Start()
	seq := New(tr, sink, zap.NewNop())
	return seq, sink, tr
}

func TestScheduleNoteFiresOnThenOff(t *testing.T) {
	seq, sink, tr := newHarness(600) // 100ms/beat
	defer tr.Stop()

	seq.ScheduleNote(0.1, 60, 100, 0, 0.1)
	time.Sleep(400 * time.Millisecond)

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2: %+v", len(calls), calls)
	}
	if !calls[0].on || calls[0].pitch != 60 {
		t.Errorf("first call = %+v, want note-on pitch 60", calls[0])
	}
	if calls[1].on || calls[1].pitch != 60 {
		t.Errorf("second call = %+v, want note-off pitch 60", calls[1])
	}
}

func TestScheduleSequenceExpandsAllNotes(t *testing.T) {
	seq, sink, tr := newHarness(1200) // 50ms/beat
	defer tr.Stop()

	tuples := []sequence.NoteTuple{
		{Pitch: 60, Velocity: 100, Channel: 0, Duration: 0.5},
		{Pitch: 64, Velocity: 100, Channel: 0, Duration: 0.5},
	}
	id, err := seq.ScheduleTuples(tuples, 1.0)
	if err != nil {
		t.Fatalf("ScheduleTuples() error: %v", err)
	}
	if id < 0 {
		t.Fatalf("ScheduleTuples() id = %d", id)
	}

	time.Sleep(300 * time.Millisecond)
	calls := sink.snapshot()
	if len(calls) != 4 {
		t.Fatalf("got %d calls, want 4: %+v", len(calls), calls)
	}
}

func TestRemoveSequenceLeavesEnqueuedEventsFiring(t *testing.T) {
	seq, sink, tr := newHarness(1200)
	defer tr.Stop()

	tuples := []sequence.NoteTuple{{Pitch: 60, Velocity: 100, Channel: 0, Duration: 0.2}}
	id, _ := seq.ScheduleTuples(tuples, 1.0)
	seq.RemoveSequence(id)

	time.Sleep(150 * time.Millisecond)
	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Errorf("got %d calls after remove, want 2 (already-enqueued notes still fire): %+v", len(calls), calls)
	}
}

func TestStopLoopPreventsFurtherIterations(t *testing.T) {
	seq, sink, tr := newHarness(2400) // 25ms/beat, sequence length 0.1 beats
	defer tr.Stop()

	s, err := sequence.New([]sequence.Note{
		mustNote(t, 60, 100, 0.1, 0, 0),
	}, nil, true, "loop-test")
	if err != nil {
		t.Fatalf("sequence.New() error: %v", err)
	}

	id, err := seq.ScheduleSequence(s)
	if err != nil {
		t.Fatalf("ScheduleSequence() error: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if err := seq.StopLoop(id); err != nil {
		t.Fatalf("StopLoop() error: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	countAfterStop := len(sink.snapshot())

	time.Sleep(150 * time.Millisecond)
	countLater := len(sink.snapshot())

	if countLater != countAfterStop {
		t.Errorf("notes kept firing after StopLoop: %d then %d", countAfterStop, countLater)
	}
}

func TestStartLoopAfterStopReschedulesImmediately(t *testing.T) {
	seq, sink, tr := newHarness(2400)
	defer tr.Stop()

	s, err := sequence.New([]sequence.Note{
		mustNote(t, 60, 100, 0.1, 0, 0),
	}, nil, false, "restart-test")
	if err != nil {
		t.Fatalf("sequence.New() error: %v", err)
	}

	id, err := seq.ScheduleSequence(s)
	if err != nil {
		t.Fatalf("ScheduleSequence() error: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	before := len(sink.snapshot())

	if err := seq.StartLoop(id); err != nil {
		t.Fatalf("StartLoop() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	after := len(sink.snapshot())

	if after <= before {
		t.Errorf("StartLoop after a finished sequence should schedule a fresh iteration: before=%d after=%d", before, after)
	}
}

func TestOperationsOnUnknownIDFail(t *testing.T) {
	seq, _, tr := newHarness(120)
	defer tr.Stop()

	if err := seq.StartLoop(9999); err == nil {
		t.Error("StartLoop on unknown ID should error")
	}
	if err := seq.StopLoop(9999); err == nil {
		t.Error("StopLoop on unknown ID should error")
	}
}

func mustNote(t *testing.T, pitch, velocity uint8, duration, startBeat float64, channel uint8) sequence.Note {
	t.Helper()
	n, err := sequence.NewNote(pitch, velocity, duration, startBeat, channel)
	if err != nil {
		t.Fatalf("NewNote() error: %v", err)
	}
	return n
}

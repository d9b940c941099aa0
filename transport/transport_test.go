package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestTransport(bpm float64) *Transport {
	return New(bpm, 4, zap.NewNop())
}

func TestScheduleEventRejectedWhenNotPlaying(t *testing.T) {
	tr := newTestTransport(120)
	id := tr.ScheduleEvent(1.0, func() {}, false)
	if id != -1 {
		t.Errorf("ScheduleEvent on stopped transport = %d, want -1", id)
	}
}

func TestScheduleEventFiresInOrder(t *testing.T) {
	tr := newTestTransport(600) // 100ms per beat
	tr.Start()
	defer tr.Stop()

	var mu sync.Mutex
	var order []int

	done := make(chan struct{})
	tr.ScheduleCriticalEvent(0.3, func() {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		close(done)
	})
	tr.ScheduleCriticalEvent(0.1, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	tr.ScheduleCriticalEvent(0.2, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
}

func TestScheduleEventPastDueRunsInline(t *testing.T) {
	tr := newTestTransport(120)
	tr.Start()
	defer tr.Stop()

	time.Sleep(5 * time.Millisecond)

	ran := false
	tr.ScheduleEvent(0, func() { ran = true }, false)
	if !ran {
		t.Error("past-due event should have executed synchronously before ScheduleEvent returned")
	}
}

func TestConcurrentEventsRunOffDispatcher(t *testing.T) {
	tr := newTestTransport(1200) // 50ms per beat
	tr.Start()
	defer tr.Stop()

	var counter atomic.Int64
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		tr.ScheduleEvent(0.1, func() {
			counter.Add(1)
			wg.Done()
		}, true)
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent events never completed")
	}

	if counter.Load() != 3 {
		t.Errorf("counter = %d, want 3", counter.Load())
	}
}

func TestRemoveEventPreventsFiring(t *testing.T) {
	tr := newTestTransport(600)
	tr.Start()
	defer tr.Stop()

	fired := false
	id := tr.ScheduleCriticalEvent(1.0, func() { fired = true })
	tr.RemoveEvent(id)

	time.Sleep(250 * time.Millisecond)
	if fired {
		t.Error("removed event fired anyway")
	}
}

func TestSetTempoRescalesPendingEvents(t *testing.T) {
	tr := newTestTransport(60) // 1s per beat
	tr.Start()
	defer tr.Stop()

	start := time.Now()
	done := make(chan struct{})
	tr.ScheduleCriticalEvent(1.0, func() { close(done) })

	// Double the tempo shortly after scheduling; the event was 1s out, and
	// should now arrive in roughly half the remaining time.
	time.Sleep(20 * time.Millisecond)
	tr.SetTempo(120)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event never fired after tempo change")
	}
	elapsed := time.Since(start)
	if elapsed > 700*time.Millisecond {
		t.Errorf("event fired after %v, expected well under 1s original schedule", elapsed)
	}
}

func TestCurrentBeatMonotonicWhileRunning(t *testing.T) {
	tr := newTestTransport(120)
	tr.Start()
	defer tr.Stop()

	a := tr.CurrentBeat()
	time.Sleep(20 * time.Millisecond)
	b := tr.CurrentBeat()
	if b <= a {
		t.Errorf("current beat did not advance: a=%v b=%v", a, b)
	}
}

func TestStopSnapshotsCurrentBeat(t *testing.T) {
	tr := newTestTransport(120)
	tr.Start()
	time.Sleep(20 * time.Millisecond)
	tr.Stop()

	beat := tr.CurrentBeat()
	time.Sleep(20 * time.Millisecond)
	if tr.CurrentBeat() != beat {
		t.Error("current beat should be frozen once stopped")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	tr := newTestTransport(120)
	tr.Start()
	tr.Start() // should log a warning and do nothing
	tr.Stop()
	tr.Stop() // should log a warning and do nothing
}

func TestJitterStatsAccumulate(t *testing.T) {
	tr := newTestTransport(1200)
	tr.Start()
	defer tr.Stop()

	done := make(chan struct{})
	tr.ScheduleCriticalEvent(0.1, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event never fired")
	}

	stats := tr.JitterStats()
	if stats.Count == 0 {
		t.Error("expected at least one jitter sample")
	}
}

func TestThreadPoolStatsReportsMaxWorkers(t *testing.T) {
	tr := newTestTransport(120)
	stats := tr.ThreadPoolStats()
	if stats.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", stats.MaxWorkers)
	}
}

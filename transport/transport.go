// Package transport implements a monotonic, tempo-aware clock that
// dispatches time-stamped callbacks with sub-millisecond jitter. It is the
// bottom layer of the scheduler: a lock-protected priority queue of future
// events drained by a single dispatcher goroutine, which either runs a
// callback inline (critical events) or hands it to a bounded worker pool
// (concurrent events).
package transport

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const nanosecondsPerMinute = 60_000_000_000

// Jitter classification bands, fixed per spec §6.
const (
	GoodJitterNs     = 500_000
	WarningJitterNs  = 2_000_000
	CriticalJitterNs = 5_000_000
)

// workerGraceTimeout bounds how long Stop waits for any single in-flight
// worker callback before giving up on it (spec §4.1).
const workerGraceTimeout = 1 * time.Second

// processEpoch anchors the transport's monotonic nanosecond timebase.
// time.Since against a fixed time.Time is monotonic per the time package's
// own guarantee, so this needs no platform-specific high-resolution timer.
var processEpoch = time.Now()

func nowNs() int64 {
	return int64(time.Since(processEpoch))
}

// JitterStats is an observability snapshot of dispatch timing accuracy.
type JitterStats struct {
	Count       int64
	AvgJitterUs float64
	MaxJitterUs float64
}

// ThreadPoolStats is an observability snapshot of the worker pool.
type ThreadPoolStats struct {
	Active        bool
	MaxWorkers    int
	ActiveFutures int
}

// Transport is a tempo-aware clock and event dispatcher.
type Transport struct {
	logger *zap.Logger

	mu                sync.Mutex
	heap              eventHeap
	bpm               float64
	nsPerBeat         float64
	running           bool
	startTimeNs       int64
	currentBeatAtStop float64

	nextEventID int64

	stopCh         chan struct{}
	dispatcherDone chan struct{}

	maxWorkers    int
	sem           *semaphore.Weighted
	futuresMu     sync.Mutex
	activeFutures []chan struct{}
	wg            sync.WaitGroup

	jitterMu         sync.Mutex
	jitterCount      int64
	jitterAbsTotalNs int64
	jitterMaxNs      int64
}

// New constructs a transport but does not start it.
func New(initialBPM float64, maxWorkers int, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	t := &Transport{
		logger:     logger,
		bpm:        initialBPM,
		nsPerBeat:  nanosecondsPerMinute / initialBPM,
		maxWorkers: maxWorkers,
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
	}
	heap.Init(&t.heap)
	return t
}

// Start records the transport's epoch and spins up the dispatcher goroutine.
// Idempotent: calling Start on an already-running transport logs a warning
// and is a no-op.
func (t *Transport) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.logger.Warn("start() called but already playing")
		return
	}
	t.running = true
	t.startTimeNs = nowNs()
	t.mu.Unlock()

	t.stopCh = make(chan struct{})
	t.dispatcherDone = make(chan struct{})

	t.logger.Info("starting transport", zap.Float64("bpm", t.bpm))
	go t.dispatchLoop()
}

// Stop halts the dispatcher, awaits in-flight workers with a bounded grace
// period each, shuts the pool down, clears the event queue, and snapshots
// current_beat. Idempotent: calling Stop on an already-stopped transport
// logs a warning and is a no-op.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		t.logger.Warn("stop() called but not playing")
		return
	}
	t.running = false
	t.mu.Unlock()

	t.logger.Info("stopping transport")
	close(t.stopCh)
	<-t.dispatcherDone

	t.awaitActiveFutures()

	t.mu.Lock()
	beat := t.computeCurrentBeatLocked()
	t.currentBeatAtStop = beat
	cleared := len(t.heap)
	t.heap = nil
	heap.Init(&t.heap)
	t.mu.Unlock()

	t.logger.Debug("cleared pending events", zap.Int("count", cleared))
	t.logger.Debug("transport stopped", zap.Float64("beat", beat))
}

// Reset stops (if running), zeroes current_beat, and restarts (if it had
// been running).
func (t *Transport) Reset() {
	t.mu.Lock()
	wasRunning := t.running
	t.mu.Unlock()

	if wasRunning {
		t.Stop()
	}

	t.mu.Lock()
	t.currentBeatAtStop = 0
	t.mu.Unlock()

	if wasRunning {
		t.Start()
	}
}

// CurrentBeat is the transport's current musical position. Monotonically
// non-decreasing while running at constant tempo (spec §3 invariant 4).
func (t *Transport) CurrentBeat() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.computeCurrentBeatLocked()
}

func (t *Transport) computeCurrentBeatLocked() float64 {
	if !t.running {
		return t.currentBeatAtStop
	}
	elapsed := nowNs() - t.startTimeNs
	return float64(elapsed) / t.nsPerBeat
}

func (t *Transport) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// ScheduleEvent enqueues a future event and returns its event ID. If the
// transport is not running it returns -1 and logs a warning (StateError,
// spec §7). If the computed fire time is already past due, the callback
// executes synchronously in the caller's goroutine (spec §4.1) and the
// event is never enqueued.
func (t *Transport) ScheduleEvent(beat float64, callback func(), concurrent bool) int64 {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		t.logger.Warn("cannot schedule event: transport not playing", zap.Float64("beat", beat))
		return -1
	}

	eventID := t.nextEventID
	t.nextEventID++
	fireAtNs := t.startTimeNs + int64(math.Round(beat*t.nsPerBeat))
	t.mu.Unlock()

	now := nowNs()
	if fireAtNs <= now {
		t.logger.Debug("event past due, executing inline",
			zap.Int64("event_id", eventID), zap.Float64("beat", beat))
		t.invokeSafely(callback, eventID)
		return eventID
	}

	ev := &timedEvent{fireAtNs: fireAtNs, callback: callback, eventID: eventID, concurrent: concurrent}
	t.mu.Lock()
	heap.Push(&t.heap, ev)
	size := len(t.heap)
	t.mu.Unlock()
	t.logger.Debug("event scheduled",
		zap.Int64("event_id", eventID), zap.Float64("beat", beat), zap.Int("queue_size", size))
	return eventID
}

// ScheduleCriticalEvent is equivalent to ScheduleEvent(..., concurrent=false).
func (t *Transport) ScheduleCriticalEvent(beat float64, callback func()) int64 {
	return t.ScheduleEvent(beat, callback, false)
}

// RemoveEvent removes a pending event by ID; a no-op if absent. O(n) heap
// rebuild — acceptable given the expected small-to-moderate queue sizes
// (spec §4.1, §9).
func (t *Transport) RemoveEvent(eventID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := len(t.heap)
	filtered := t.heap[:0]
	for _, ev := range t.heap {
		if ev.eventID != eventID {
			filtered = append(filtered, ev)
		}
	}
	t.heap = filtered
	heap.Init(&t.heap)

	if len(t.heap) != before {
		t.logger.Debug("event removed", zap.Int64("event_id", eventID))
	} else {
		t.logger.Warn("event not found for removal", zap.Int64("event_id", eventID))
	}
}

// SetTempo changes the transport's tempo. Pending events are rescaled so
// that their musical beat position is preserved; start_time_ns is left
// fixed (spec §4.1, §9(b)).
func (t *Transport) SetTempo(bpm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldNsPerBeat := t.nsPerBeat
	oldBPM := t.bpm
	t.bpm = bpm
	t.nsPerBeat = nanosecondsPerMinute / bpm

	if !t.running {
		return
	}

	now := nowNs()
	old := t.heap
	t.heap = nil
	heap.Init(&t.heap)

	rescheduled := 0
	for _, ev := range old {
		if ev.fireAtNs <= now {
			// Past due at this instant: keep its fire time unchanged, the
			// dispatcher will pick it up on its next iteration anyway.
			heap.Push(&t.heap, ev)
			continue
		}
		beatPosition := float64(ev.fireAtNs-t.startTimeNs) / oldNsPerBeat
		ev.fireAtNs = t.startTimeNs + int64(math.Round(beatPosition*t.nsPerBeat))
		heap.Push(&t.heap, ev)
		rescheduled++
	}

	t.logger.Info("tempo changed",
		zap.Float64("old_bpm", oldBPM), zap.Float64("new_bpm", bpm),
		zap.Int("events_rescheduled", rescheduled))
}

// JitterStats returns a snapshot of dispatch timing accuracy. It takes the
// same lock the dispatcher goroutine holds while recording samples.
func (t *Transport) JitterStats() JitterStats {
	t.jitterMu.Lock()
	defer t.jitterMu.Unlock()
	if t.jitterCount == 0 {
		return JitterStats{}
	}
	return JitterStats{
		Count:       t.jitterCount,
		AvgJitterUs: float64(t.jitterAbsTotalNs) / float64(t.jitterCount) / 1_000,
		MaxJitterUs: float64(t.jitterMaxNs) / 1_000,
	}
}

// ThreadPoolStats returns a snapshot of the worker pool.
func (t *Transport) ThreadPoolStats() ThreadPoolStats {
	t.futuresMu.Lock()
	active := len(t.activeFutures)
	t.futuresMu.Unlock()
	return ThreadPoolStats{
		Active:        t.isRunning(),
		MaxWorkers:    t.maxWorkers,
		ActiveFutures: active,
	}
}

// dispatchLoop is the single dedicated goroutine that owns the event heap
// and the wait loop (spec §4.1, §5).
func (t *Transport) dispatchLoop() {
	defer close(t.dispatcherDone)

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		now := nowNs()
		ready := t.drainReady(now)
		for _, ev := range ready {
			t.handleEvent(ev, now)
		}
		t.cleanupCompletedFutures()
		t.waitForNext()
	}
}

func (t *Transport) drainReady(now int64) []*timedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ready []*timedEvent
	for t.heap.Len() > 0 && t.heap[0].fireAtNs <= now {
		ready = append(ready, heap.Pop(&t.heap).(*timedEvent))
	}
	return ready
}

func (t *Transport) handleEvent(ev *timedEvent, now int64) {
	jitter := now - ev.fireAtNs
	t.recordJitter(jitter, ev.eventID)

	if ev.concurrent {
		t.submitConcurrent(ev)
	} else {
		t.invokeSafely(ev.callback, ev.eventID)
	}
}

func (t *Transport) recordJitter(jitter int64, eventID int64) {
	abs := jitter
	if abs < 0 {
		abs = -abs
	}

	t.jitterMu.Lock()
	t.jitterCount++
	t.jitterAbsTotalNs += abs
	if abs > t.jitterMaxNs {
		t.jitterMaxNs = abs
	}
	t.jitterMu.Unlock()

	switch {
	case abs > CriticalJitterNs:
		t.logger.Error("critical timing jitter",
			zap.Int64("event_id", eventID), zap.Duration("jitter", time.Duration(jitter)))
	case abs > WarningJitterNs:
		t.logger.Warn("noticeable timing jitter",
			zap.Int64("event_id", eventID), zap.Duration("jitter", time.Duration(jitter)))
	case abs > GoodJitterNs:
		t.logger.Info("acceptable timing jitter",
			zap.Int64("event_id", eventID), zap.Duration("jitter", time.Duration(jitter)))
	default:
		t.logger.Debug("excellent timing jitter",
			zap.Int64("event_id", eventID), zap.Duration("jitter", time.Duration(jitter)))
	}
}

func (t *Transport) submitConcurrent(ev *timedEvent) {
	done := make(chan struct{})
	t.futuresMu.Lock()
	t.activeFutures = append(t.activeFutures, done)
	t.futuresMu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(done)
		if err := t.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer t.sem.Release(1)
		t.invokeSafely(ev.callback, ev.eventID)
	}()
}

// invokeSafely runs a callback, catching and logging any panic so a failing
// callback never crashes the dispatcher (spec §7 CallbackError).
func (t *Transport) invokeSafely(callback func(), eventID int64) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("callback panicked", zap.Int64("event_id", eventID), zap.Any("panic", r))
		}
	}()
	callback()
}

func (t *Transport) cleanupCompletedFutures() {
	t.futuresMu.Lock()
	defer t.futuresMu.Unlock()

	live := t.activeFutures[:0]
	for _, done := range t.activeFutures {
		select {
		case <-done:
			// completed, drop it
		default:
			live = append(live, done)
		}
	}
	t.activeFutures = live
}

func (t *Transport) awaitActiveFutures() {
	t.futuresMu.Lock()
	futures := make([]chan struct{}, len(t.activeFutures))
	copy(futures, t.activeFutures)
	t.activeFutures = nil
	t.futuresMu.Unlock()

	for _, done := range futures {
		select {
		case <-done:
		case <-time.After(workerGraceTimeout):
			t.logger.Warn("callback did not complete cleanly within grace period")
		}
	}
}

func (t *Transport) waitForNext() {
	t.mu.Lock()
	var target int64
	hasNext := t.heap.Len() > 0
	if hasNext {
		target = t.heap[0].fireAtNs
	}
	t.mu.Unlock()

	if !hasNext {
		t.sleepInterruptible(50 * time.Microsecond)
		return
	}
	t.preciseWaitUntil(target)
}

// preciseWaitUntil implements the adaptive precision/CPU tradeoff strategy
// from spec §4.1: coarser sleeps for distant targets, busy-spinning only for
// the final tens of microseconds.
func (t *Transport) preciseWaitUntil(targetNs int64) {
	for {
		now := nowNs()
		if now >= targetNs {
			return
		}
		remaining := targetNs - now

		switch {
		case remaining > 10_000_000:
			if t.sleepInterruptible(5 * time.Millisecond) {
				return
			}
		case remaining > 1_000_000:
			if t.sleepInterruptible(500 * time.Microsecond) {
				return
			}
		case remaining > 100_000:
			if t.sleepInterruptible(50 * time.Microsecond) {
				return
			}
		default:
			select {
			case <-t.stopCh:
				return
			default:
			}
		}
	}
}

// sleepInterruptible sleeps for d unless the transport is stopped first;
// returns true if it woke up because of a stop.
func (t *Transport) sleepInterruptible(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-t.stopCh:
		return true
	}
}

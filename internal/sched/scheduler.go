// Package sched runs game logic on a virtual clock that only moves when the
// host steps it. One Step is one frame: frame callbacks run first, in
// registration order, then every timer whose deadline has been reached fires
// in deadline order.
//
// A Scheduler is deliberately single-threaded. Nothing here locks; the owner
// (the game engine) serializes Step with every other call that touches the
// simulation, so callbacks run to completion without interleaving.
package sched

import (
	"container/heap"
	"time"
)

// Scheduler is a cooperative frame scheduler with delay timers.
type Scheduler struct {
	now    time.Duration
	frame  uint64
	seq    uint64
	timers timerQueue
	frames []*Ticker
}

// New creates a scheduler at time zero.
func New() *Scheduler {
	return &Scheduler{}
}

// Now returns the virtual time elapsed since the scheduler was created.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Frame returns the number of frames stepped so far.
func (s *Scheduler) Frame() uint64 {
	return s.frame
}

// After schedules fn to run once, d after the current virtual time.
// A non-positive delay fires in the next timer phase.
func (s *Scheduler) After(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &Timer{
		s:     s,
		at:    s.now + d,
		seq:   s.seq,
		fn:    fn,
		index: -1,
	}
	heap.Push(&s.timers, t)
	return t
}

// OnFrame registers fn to run on every subsequent frame with that frame's
// delta. Callbacks registered while a frame is running start on the next one.
func (s *Scheduler) OnFrame(fn func(dt time.Duration)) *Ticker {
	t := &Ticker{fn: fn}
	s.frames = append(s.frames, t)
	return t
}

// Step advances the clock by dt and runs one frame.
func (s *Scheduler) Step(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	s.now += dt
	s.frame++

	n := len(s.frames)
	for i := 0; i < n; i++ {
		if t := s.frames[i]; !t.stopped {
			t.fn(dt)
		}
	}

	// Drop stopped tickers, keeping any registered during this frame.
	live := s.frames[:0]
	for _, t := range s.frames {
		if !t.stopped {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(s.frames); i++ {
		s.frames[i] = nil
	}
	s.frames = live

	for len(s.timers) > 0 && s.timers[0].at <= s.now {
		t := heap.Pop(&s.timers).(*Timer)
		t.fn()
	}
}

// Run steps frames of length dt until at least total virtual time has
// elapsed and returns the number of frames stepped.
func (s *Scheduler) Run(total, dt time.Duration) int {
	if dt <= 0 {
		return 0
	}
	target := s.now + total
	frames := 0
	for s.now < target {
		s.Step(dt)
		frames++
	}
	return frames
}

// PendingTimers returns the number of timers that have not fired or been stopped.
func (s *Scheduler) PendingTimers() int {
	return len(s.timers)
}

// ActiveFrames returns the number of live frame callbacks.
func (s *Scheduler) ActiveFrames() int {
	n := 0
	for _, t := range s.frames {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Timer is a pending one-shot callback.
type Timer struct {
	s     *Scheduler
	at    time.Duration
	seq   uint64
	fn    func()
	index int
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.index < 0 {
		return false
	}
	heap.Remove(&t.s.timers, t.index)
	return true
}

// Deadline returns the virtual time the timer fires at.
func (t *Timer) Deadline() time.Duration {
	return t.at
}

// Ticker is a per-frame callback registration.
type Ticker struct {
	fn      func(dt time.Duration)
	stopped bool
}

// Stop unregisters the callback. Safe to call from inside the callback.
func (t *Ticker) Stop() {
	if t != nil {
		t.stopped = true
	}
}

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool {
	return t.stopped
}

// timerQueue orders timers by deadline, then by scheduling order.
type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

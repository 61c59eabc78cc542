// Package sched is the discrete-event scheduler that drives every simulated
// device. Callbacks run one at a time in simulated-time order.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventScheduler schedules callbacks at simulated times.
//
// A run loop either steps through events one at a time (Step, RunUntil) or,
// when paced against wall-clock time, advances the clock and calls RunDue.
type EventScheduler interface {
	// Schedule registers f to run at simulation time 'at' and returns an
	// opaque id usable with Cancel. Times in the past run at Now().
	Schedule(at time.Time, f func()) (id string)

	// After registers f to run d after Now().
	After(d time.Duration, f func()) (id string)

	// Cancel is a no-op if the id is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	RunDue()
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Scheduler owns simulated time. Events scheduled for the same instant run
// in the order they were scheduled.
type Scheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
	ran     uint64
}

var _ EventScheduler = (*Scheduler)(nil)

// New creates a scheduler whose clock starts at start.
func New(start time.Time) *Scheduler {
	return &Scheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the specified simulation time.
func (s *Scheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(at, f)
}

// After registers a callback to run d after the current simulation time.
func (s *Scheduler) After(d time.Duration, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < 0 {
		d = 0
	}
	return s.scheduleLocked(s.now.Add(d), f)
}

func (s *Scheduler) scheduleLocked(at time.Time, f func()) string {
	if at.Before(s.now) {
		at = s.now
	}
	s.counter++
	id := fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}
	s.addEventLocked(ev)
	s.index[id] = ev
	return id
}

// addEventLocked inserts ev after every event scheduled at or before ev.when.
// Caller must hold s.mu.
func (s *Scheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel marks a scheduled event as cancelled. Removal is lazy.
func (s *Scheduler) Cancel(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

// Pending returns the number of live (not cancelled, not run) events.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Executed returns how many callbacks have run so far.
func (s *Scheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

// NextAt returns the time of the earliest live event.
func (s *Scheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCancelledLocked()
	if len(s.events) == 0 {
		return time.Time{}, false
	}
	return s.events[0].when, true
}

func (s *Scheduler) dropCancelledLocked() {
	for len(s.events) > 0 && s.events[0].cancelled {
		s.events[0] = nil
		s.events = s.events[1:]
	}
}

// popLocked removes and returns the earliest live event if it is due by
// limit. Caller must hold s.mu.
func (s *Scheduler) popLocked(limit time.Time) *scheduledEvent {
	s.dropCancelledLocked()
	if len(s.events) == 0 {
		return nil
	}
	ev := s.events[0]
	if ev.when.After(limit) {
		return nil
	}
	s.events[0] = nil
	s.events = s.events[1:]
	delete(s.index, ev.id)
	if ev.when.After(s.now) {
		s.now = ev.when
	}
	s.ran++
	return ev
}

// Step runs the earliest pending event, advancing the clock to its time.
// It reports false when nothing is pending.
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	s.dropCancelledLocked()
	if len(s.events) == 0 {
		s.mu.Unlock()
		return false
	}
	ev := s.popLocked(s.events[0].when)
	s.mu.Unlock()

	// Execute callback outside the lock so it can schedule more events.
	if ev.f != nil {
		ev.f()
	}
	return true
}

// RunUntil runs every event due at or before t, then leaves the clock at t.
// It returns the number of callbacks executed.
func (s *Scheduler) RunUntil(t time.Time) int {
	n := 0
	for {
		s.mu.Lock()
		ev := s.popLocked(t)
		if ev == nil {
			if t.After(s.now) {
				s.now = t
			}
			s.mu.Unlock()
			return n
		}
		s.mu.Unlock()

		if ev.f != nil {
			ev.f()
		}
		n++
	}
}

// RunFor advances the simulation by d.
func (s *Scheduler) RunFor(d time.Duration) int {
	return s.RunUntil(s.Now().Add(d))
}

// RunDue executes all events whose scheduled time is <= Now().
func (s *Scheduler) RunDue() {
	s.RunUntil(s.Now())
}

// AdvanceTo moves the clock forward to t and runs everything due. Time never
// goes backwards.
func (s *Scheduler) AdvanceTo(t time.Time) {
	if t.Before(s.Now()) {
		return
	}
	s.RunUntil(t)
}

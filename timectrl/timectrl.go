// Package timectrl paces simulated time against the wall clock.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulated time.
type SimClock interface {
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick of simulated time per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as listeners keep up.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives simulation time and notifies registered listeners
// after every tick. A listener typically runs the event scheduler up to the
// new time.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
}

var _ SimClock = (*TimeController)(nil)

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller in a separate goroutine until duration of
// simulated time has elapsed (zero means forever) or ctx is cancelled.
// The returned channel is closed when the controller stops.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		var tickC <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if tickC != nil {
				select {
				case <-ctx.Done():
					return
				case <-tickC:
				}
			} else if ctx.Err() != nil {
				return
			}

			step := tc.Tick
			if duration > 0 && elapsed+step > duration {
				step = duration - elapsed
			}
			simTime = simTime.Add(step)
			elapsed += step

			tc.mu.Lock()
			tc.currentTime = simTime
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}

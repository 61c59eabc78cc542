package sched

import (
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduler_SingleEvent(t *testing.T) {
	s := New(epoch)

	var counter int
	t1 := epoch.Add(10 * time.Second)
	id := s.Schedule(t1, func() { counter++ })
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	s.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	s.AdvanceTo(t1)
	if counter != 1 {
		t.Fatalf("expected counter=1 after time advance, got %d", counter)
	}

	s.RunDue()
	if counter != 1 {
		t.Fatalf("event ran twice, counter=%d", counter)
	}
	if !s.Now().Equal(t1) {
		t.Fatalf("Now = %v, want %v", s.Now(), t1)
	}
}

func TestScheduler_SameInstantIsFIFO(t *testing.T) {
	s := New(epoch)
	var order []string
	at := epoch.Add(time.Millisecond)
	s.Schedule(at, func() { order = append(order, "a") })
	s.Schedule(at, func() { order = append(order, "b") })
	s.After(0, func() {
		order = append(order, "now")
		s.After(0, func() { order = append(order, "nested") })
	})
	s.Schedule(at, func() { order = append(order, "c") })

	s.RunUntil(at)

	want := []string{"now", "nested", "a", "b", "c"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := New(epoch)
	ran := false
	id := s.After(time.Second, func() { ran = true })
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel("ev-unknown")
	if s.Pending() != 0 {
		t.Fatalf("Pending after cancel = %d, want 0", s.Pending())
	}
	s.RunFor(2 * time.Second)
	if ran {
		t.Fatalf("cancelled event ran")
	}
}

func TestScheduler_StepAdvancesClock(t *testing.T) {
	s := New(epoch)
	var seen []time.Duration
	for _, d := range []time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond} {
		s.After(d, func() { seen = append(seen, s.Now().Sub(epoch)) })
	}
	for s.Step() {
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	if s.Executed() != 3 {
		t.Fatalf("Executed = %d, want 3", s.Executed())
	}
}

func TestScheduler_PastTimesRunNow(t *testing.T) {
	s := New(epoch)
	s.RunFor(time.Second)
	var at time.Time
	s.Schedule(epoch, func() { at = s.Now() })
	next, ok := s.NextAt()
	if !ok || !next.Equal(epoch.Add(time.Second)) {
		t.Fatalf("NextAt = %v %v, want clamp to now", next, ok)
	}
	s.RunDue()
	if !at.Equal(epoch.Add(time.Second)) {
		t.Fatalf("event ran at %v", at)
	}
}

func TestScheduler_AdvanceToIsMonotonic(t *testing.T) {
	s := New(epoch)
	s.AdvanceTo(epoch.Add(time.Minute))
	s.AdvanceTo(epoch)
	if !s.Now().Equal(epoch.Add(time.Minute)) {
		t.Fatalf("clock went backwards: %v", s.Now())
	}
}

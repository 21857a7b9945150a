package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRate_FixedCadence(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewAutoMockClock(start)
	rate := NewRate(clock, 10*time.Millisecond)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := rate.Sleep(ctx); err != nil {
			t.Fatalf("Sleep() error: %v", err)
		}
		want := start.Add(time.Duration(i) * 10 * time.Millisecond)
		if got := clock.Now(); !got.Equal(want) {
			t.Fatalf("tick %d: now = %v, want %v", i, got, want)
		}
	}
	if rate.Overruns() != 0 {
		t.Errorf("Overruns() = %d, want 0", rate.Overruns())
	}
}

func TestRate_SleepsOnlyTheRemainder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewAutoMockClock(start)
	rate := NewRate(clock, 10*time.Millisecond)

	// simulate 4ms of work inside the tick
	clock.Set(start.Add(4 * time.Millisecond))
	if err := rate.Sleep(context.Background()); err != nil {
		t.Fatal(err)
	}

	waits := clock.Waits()
	if len(waits) != 1 || waits[0] != 6*time.Millisecond {
		t.Errorf("Waits() = %v, want [6ms]", waits)
	}
}

func TestRate_OverrunReanchors(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewAutoMockClock(start)
	rate := NewRate(clock, 10*time.Millisecond)

	clock.Set(start.Add(35 * time.Millisecond))
	if err := rate.Sleep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rate.Overruns() != 1 {
		t.Errorf("Overruns() = %d, want 1", rate.Overruns())
	}
	if len(clock.Waits()) != 0 {
		t.Errorf("an overrun tick should not wait, got %v", clock.Waits())
	}

	// the next deadline is one full period after the overrun
	if err := rate.Sleep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := clock.Since(start); got != 45*time.Millisecond {
		t.Errorf("now = start+%v, want start+45ms", got)
	}
}

func TestRate_Cancellation(t *testing.T) {
	clock := NewMockClock(time.Time{})
	rate := NewRate(clock, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- rate.Sleep(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Sleep() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Rate.Sleep was not interrupted by cancellation")
	}
}

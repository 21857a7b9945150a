package control

import (
	"math/rand"
	"testing"
	"time"
)

func TestPhaseAt(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		elapsed, zero, init time.Duration
		want                Phase
	}{
		{10 * ms, 0, 500 * ms, PhaseInit},
		{500 * ms, 0, 500 * ms, PhaseInit},
		{510 * ms, 0, 500 * ms, PhaseSteady},
		{10 * ms, 50 * ms, 500 * ms, PhaseHold},
		{50 * ms, 50 * ms, 500 * ms, PhaseHold},
		{60 * ms, 50 * ms, 500 * ms, PhaseInit},
		{550 * ms, 50 * ms, 500 * ms, PhaseInit},
		{551 * ms, 50 * ms, 500 * ms, PhaseSteady},
	}
	for _, tt := range tests {
		if got := PhaseAt(tt.elapsed, tt.zero, tt.init); got != tt.want {
			t.Errorf("PhaseAt(%v, %v, %v) = %v, want %v", tt.elapsed, tt.zero, tt.init, got, tt.want)
		}
	}
}

func TestPhaseAt_Monotone(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		period := time.Duration(1+r.Intn(20)) * time.Millisecond
		zero := time.Duration(r.Intn(3)) * time.Duration(r.Intn(100)) * time.Millisecond
		init := time.Duration(1+r.Intn(1000)) * time.Millisecond

		prev := PhaseHold
		reachedSteady := false
		for tick := 1; tick <= 2000; tick++ {
			elapsed := time.Duration(tick) * period
			p := PhaseAt(elapsed, zero, init)
			if p < prev {
				t.Fatalf("phase went back from %v to %v at tick %d", prev, p, tick)
			}
			if p == PhaseSteady && !reachedSteady {
				reachedSteady = true
				if elapsed <= zero+init || elapsed-period > zero+init {
					t.Fatalf("STEADY began at %v, window ends at %v (period %v)", elapsed, zero+init, period)
				}
			}
			prev = p
		}
	}
}

func TestInitProgress(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		elapsed, zero, init time.Duration
		want                float64
	}{
		{250 * ms, 0, 500 * ms, 0.5},
		{0, 0, 500 * ms, 0},
		{700 * ms, 0, 500 * ms, 1},
		{10 * ms, 50 * ms, 500 * ms, 0},
		{300 * ms, 50 * ms, 500 * ms, 0.5},
		{10 * ms, 0, 0, 1},
	}
	for _, tt := range tests {
		if got := InitProgress(tt.elapsed, tt.zero, tt.init); got != tt.want {
			t.Errorf("InitProgress(%v, %v, %v) = %v, want %v", tt.elapsed, tt.zero, tt.init, got, tt.want)
		}
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range []Phase{PhaseHold, PhaseInit, PhaseSteady} {
		got, err := ParsePhase(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePhase(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePhase("walking"); err == nil {
		t.Error("expected error for unknown phase")
	}
	if s := Phase(9).String(); s != "Phase(9)" {
		t.Errorf("String() = %q", s)
	}
}

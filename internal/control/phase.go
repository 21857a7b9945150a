package control

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the control-loop state. It only ever moves forward:
// HOLD → INIT → STEADY.
type Phase int

const (
	// PhaseHold publishes nothing and keeps re-recording the initial base
	// position. It only occurs when a zero time is configured.
	PhaseHold Phase = iota
	// PhaseInit follows the scripted settling trajectory.
	PhaseInit
	// PhaseSteady delegates to the planner.
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseHold:
		return "HOLD"
	case PhaseInit:
		return "INIT"
	case PhaseSteady:
		return "STEADY"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToUpper(s) {
	case "HOLD":
		return PhaseHold, nil
	case "INIT":
		return PhaseInit, nil
	case "STEADY":
		return PhaseSteady, nil
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// PhaseAt returns the phase for a tick at elapsed time since the barrier.
// The boundaries are inclusive on the earlier phase: a tick landing exactly
// on zero+init is still INIT.
func PhaseAt(elapsed, zero, init time.Duration) Phase {
	switch {
	case zero > 0 && elapsed <= zero:
		return PhaseHold
	case elapsed <= zero+init:
		return PhaseInit
	default:
		return PhaseSteady
	}
}

// InitProgress is the fraction of the INIT window covered at elapsed,
// clamped to [0,1].
func InitProgress(elapsed, zero, init time.Duration) float64 {
	if init <= 0 {
		return 1
	}
	p := float64(elapsed-zero) / float64(init)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Package estimator turns the raw sensor-frame acceleration into the filtered
// acceleration consumed by the planner.
package estimator

import (
	"fmt"
	"time"

	"github.com/banshee-data/motiongen/internal/filter"
	"github.com/banshee-data/motiongen/internal/geom"
)

// Gravity is the world-frame gravity vector added when compensation is on.
var Gravity = geom.V3(0, 0, -9.81)

// Config holds the estimator constants.
type Config struct {
	FilterOrder         int
	FilterBeta          float64
	Period              time.Duration
	GravityCompensation bool
}

// Stats counts guarded inputs.
type Stats struct {
	Calls                  uint64 `json:"calls"`
	DegenerateOrientations uint64 `json:"degenerate_orientations"`
	NonFiniteAccelerations uint64 `json:"non_finite_accelerations"`
}

// Estimator rotates, filters and negates the raw acceleration once per
// control tick. It is owned by the control loop and is not safe for
// concurrent use.
type Estimator struct {
	cfg    Config
	filter *filter.Fading

	lastQ geom.Quat
	lastA geom.Vec3
	stats Stats
}

// New builds an estimator with a fresh filter.
func New(cfg Config) (*Estimator, error) {
	f, err := filter.NewFading(cfg.FilterOrder, cfg.FilterBeta, cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("acceleration filter: %w", err)
	}
	return &Estimator{cfg: cfg, filter: f, lastQ: geom.Identity()}, nil
}

// Estimate rotates raw by the conjugate of orientation, optionally adds
// gravity, filters the result and returns its negation.
//
// A degenerate orientation is replaced by the last valid one (identity
// before the first) and a non-finite raw sample by the last finite one
// (zero before the first), so the filter never sees NaN.
func (e *Estimator) Estimate(raw geom.Vec3, orientation geom.Quat) geom.Vec3 {
	e.stats.Calls++

	q, err := orientation.Normalize()
	if err != nil {
		e.stats.DegenerateOrientations++
		q = e.lastQ
	} else {
		e.lastQ = q
	}

	if raw.IsFinite() {
		e.lastA = raw
	} else {
		e.stats.NonFiniteAccelerations++
		raw = e.lastA
	}

	rotated := geom.RotateInverse(q, raw)
	if e.cfg.GravityCompensation {
		rotated = rotated.Add(Gravity)
	}
	return e.filter.Filter(rotated).Neg()
}

// Stats returns the guard counters.
func (e *Estimator) Stats() Stats { return e.stats }

// Samples returns how many samples the filter has consumed.
func (e *Estimator) Samples() uint64 { return e.filter.Samples() }

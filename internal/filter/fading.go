// Package filter implements the fading-memory polynomial filter used to
// smooth the rotated base acceleration.
//
// A fading-memory filter of order n tracks a polynomial of degree n-1 with
// exponentially decaying weight beta on past samples. Higher beta means more
// smoothing and more lag. The gains below are the closed-form expanding-to-
// fading solutions for orders 1 to 3; each has unit steady-state gain for a
// constant input.
package filter

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/motiongen/internal/geom"
)

const (
	MinOrder = 1
	MaxOrder = 3
)

// Fading is a per-axis fading-memory filter over geom.Vec3 samples. It is not
// safe for concurrent use; the estimator owns one instance per run.
type Fading struct {
	order  int
	beta   float64
	period float64 // seconds

	g, h, k float64

	// estimate, first and second derivative per axis
	x, dx, ddx [3]float64

	initialized bool
	samples     uint64
}

// NewFading returns a filter of the given order and smoothing coefficient for
// samples arriving every period.
func NewFading(order int, beta float64, period time.Duration) (*Fading, error) {
	if order < MinOrder || order > MaxOrder {
		return nil, fmt.Errorf("filter order %d out of range [%d, %d]", order, MinOrder, MaxOrder)
	}
	if !(beta > 0 && beta < 1) {
		return nil, fmt.Errorf("filter beta must be in (0, 1), got %v", beta)
	}
	if period <= 0 {
		return nil, fmt.Errorf("filter period must be positive, got %v", period)
	}

	f := &Fading{order: order, beta: beta, period: period.Seconds()}
	omb := 1 - beta
	switch order {
	case 1:
		f.g = omb
	case 2:
		f.g = 1 - beta*beta
		f.h = omb * omb
	case 3:
		f.g = 1 - beta*beta*beta
		f.h = 1.5 * omb * omb * (1 + beta)
		f.k = 0.5 * omb * omb * omb
	}
	return f, nil
}

// Order returns the filter order.
func (f *Fading) Order() int { return f.order }

// Beta returns the smoothing coefficient.
func (f *Fading) Beta() float64 { return f.beta }

// Samples returns how many samples have been filtered.
func (f *Fading) Samples() uint64 { return f.samples }

// Filter folds z into the filter state and returns the new estimate. The
// first call seeds the state with z and zero derivatives.
func (f *Fading) Filter(z geom.Vec3) geom.Vec3 {
	f.samples++
	in := z.Array()

	if !f.initialized {
		f.x = in
		f.dx = [3]float64{}
		f.ddx = [3]float64{}
		f.initialized = true
		return z
	}

	ts := f.period
	for i := range in {
		predX := f.x[i] + ts*f.dx[i] + 0.5*ts*ts*f.ddx[i]
		predDx := f.dx[i] + ts*f.ddx[i]
		r := in[i] - predX

		f.x[i] = predX + f.g*r
		switch f.order {
		case 2:
			f.dx[i] = predDx + f.h/ts*r
		case 3:
			f.dx[i] = predDx + f.h/ts*r
			f.ddx[i] = f.ddx[i] + 2*f.k/(ts*ts)*r
		}

		// a diverged axis is re-seeded from the sample rather than poisoning
		// every later output
		if math.IsNaN(f.x[i]) || math.IsInf(f.x[i], 0) {
			f.x[i], f.dx[i], f.ddx[i] = in[i], 0, 0
		}
	}
	return geom.V3(f.x[0], f.x[1], f.x[2])
}

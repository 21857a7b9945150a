// Package spline provides the point-to-point interpolation primitives used
// for the scripted startup motion.
package spline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/motiongen/internal/geom"
)

// Interpolation method names accepted by New.
const (
	MethodLinear  = "linear"
	MethodCubic   = "cubic"
	MethodQuintic = "quintic"
)

// Interpolator maps progress in [0,1] along the segment start→end to a
// position and its first two time derivatives.
type Interpolator interface {
	Interpolate(start, end geom.Vec3, progress float64) (pos, vel, acc geom.Vec3)
}

// New returns the interpolator for method over a segment lasting duration.
// Derivatives are zero when duration is not positive.
func New(method string, duration time.Duration) (Interpolator, error) {
	var basis func(p float64) (s, ds, dds float64)
	switch strings.ToLower(method) {
	case MethodLinear:
		basis = linear
	case MethodCubic:
		basis = cubic
	case MethodQuintic, "":
		basis = quintic
	default:
		return nil, fmt.Errorf("unknown interpolation method %q", method)
	}
	return &segment{basis: basis, seconds: duration.Seconds()}, nil
}

// Quintic returns a minimum-jerk interpolator: zero velocity and
// acceleration at both ends.
func Quintic(duration time.Duration) Interpolator {
	return &segment{basis: quintic, seconds: duration.Seconds()}
}

type segment struct {
	basis   func(p float64) (s, ds, dds float64)
	seconds float64
}

func (g *segment) Interpolate(start, end geom.Vec3, progress float64) (pos, vel, acc geom.Vec3) {
	p := Clamp(progress)
	s, ds, dds := g.basis(p)
	delta := end.Sub(start)

	pos = start.Add(delta.Scale(s))
	if g.seconds > 0 {
		vel = delta.Scale(ds / g.seconds)
		acc = delta.Scale(dds / (g.seconds * g.seconds))
	}
	return pos, vel, acc
}

// Clamp limits p to [0,1]; NaN maps to 0.
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func linear(p float64) (float64, float64, float64) { return p, 1, 0 }

// cubic has zero velocity at both ends.
func cubic(p float64) (float64, float64, float64) {
	p2 := p * p
	return 3*p2 - 2*p2*p, 6*p - 6*p2, 6 - 12*p
}

func quintic(p float64) (float64, float64, float64) {
	p2 := p * p
	p3 := p2 * p
	return 10*p3 - 15*p3*p + 6*p3*p2,
		30*p2 - 60*p3 + 30*p3*p,
		60*p - 180*p2 + 120*p3
}

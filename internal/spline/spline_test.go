package spline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiongen/internal/geom"
)

func TestNew_Methods(t *testing.T) {
	for _, m := range []string{"linear", "cubic", "quintic", "QUINTIC", ""} {
		_, err := New(m, time.Second)
		assert.NoError(t, err, m)
	}
	_, err := New("bezier", time.Second)
	assert.Error(t, err)
}

func TestInterpolate_Endpoints(t *testing.T) {
	start := geom.V3(0.1, -0.2, 0.6)
	end := geom.V3(0.1, -0.2, 0.5)

	for _, m := range []string{MethodLinear, MethodCubic, MethodQuintic} {
		t.Run(m, func(t *testing.T) {
			s, err := New(m, 500*time.Millisecond)
			require.NoError(t, err)

			pos, _, _ := s.Interpolate(start, end, 0)
			assert.Equal(t, start, pos)
			pos, _, _ = s.Interpolate(start, end, 1)
			assert.InDelta(t, end.Z, pos.Z, 1e-12)
			assert.Equal(t, end.X, pos.X)

			// progress outside [0,1] is clamped
			pos, _, _ = s.Interpolate(start, end, 1.7)
			assert.InDelta(t, end.Z, pos.Z, 1e-12)
			pos, _, _ = s.Interpolate(start, end, math.NaN())
			assert.Equal(t, start, pos)
		})
	}
}

func TestInterpolate_BoundaryDerivatives(t *testing.T) {
	start, end := geom.V3(0, 0, 0.6), geom.V3(0, 0, 0.5)

	q := Quintic(500 * time.Millisecond)
	for _, p := range []float64{0, 1} {
		_, vel, acc := q.Interpolate(start, end, p)
		assert.InDelta(t, 0, vel.Z, 1e-12)
		assert.InDelta(t, 0, acc.Z, 1e-12)
	}

	c, _ := New(MethodCubic, 500*time.Millisecond)
	_, vel, _ := c.Interpolate(start, end, 0)
	assert.InDelta(t, 0, vel.Z, 1e-12)

	l, _ := New(MethodLinear, 500*time.Millisecond)
	_, vel, acc := l.Interpolate(start, end, 0.3)
	assert.InDelta(t, -0.2, vel.Z, 1e-12) // -0.1 m over 0.5 s
	assert.Equal(t, 0.0, acc.Z)
}

func TestInterpolate_QuinticMidpointAndMonotone(t *testing.T) {
	start, end := geom.V3(0, 0, 0.6), geom.V3(0, 0, 0.5)
	q := Quintic(500 * time.Millisecond)

	mid, vel, _ := q.Interpolate(start, end, 0.5)
	assert.InDelta(t, 0.55, mid.Z, 1e-12)
	// peak speed of a minimum-jerk profile is 1.875 × average
	assert.InDelta(t, -0.1/0.5*1.875, vel.Z, 1e-9)

	prev := math.Inf(1)
	for i := 0; i <= 50; i++ {
		pos, _, _ := q.Interpolate(start, end, float64(i)/50)
		assert.LessOrEqual(t, pos.Z, prev)
		prev = pos.Z
	}
}

func TestInterpolate_ZeroDuration(t *testing.T) {
	q := Quintic(0)
	pos, vel, acc := q.Interpolate(geom.V3(0, 0, 1), geom.V3(0, 0, 0), 0.5)
	assert.InDelta(t, 0.5, pos.Z, 1e-12)
	assert.Equal(t, geom.Vec3{}, vel)
	assert.Equal(t, geom.Vec3{}, acc)
}

package estimator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiongen/internal/geom"
)

func defaultConfig() Config {
	return Config{FilterOrder: 2, FilterBeta: 0.995, Period: 10 * time.Millisecond}
}

func assertVec(t *testing.T, want, got geom.Vec3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-9, "z")
}

func TestNew_InvalidFilter(t *testing.T) {
	cfg := defaultConfig()
	cfg.FilterBeta = 1.5
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = defaultConfig()
	cfg.Period = 0
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestEstimate_FirstCallBootstrapsAndNegates(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	got := e.Estimate(geom.V3(0.2, -0.1, 9.81), geom.Identity())
	assertVec(t, geom.V3(-0.2, 0.1, -9.81), got)
	assert.Equal(t, uint64(1), e.Samples())
}

func TestEstimate_RotatesByConjugate(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	// body yawed +90°: a world-x reading maps to -y before negation
	got := e.Estimate(geom.V3(1, 0, 0), geom.FromYaw(math.Pi/2))
	assertVec(t, geom.V3(0, 1, 0), got)
}

func TestEstimate_GravityCompensation(t *testing.T) {
	cfg := defaultConfig()
	cfg.GravityCompensation = true
	e, err := New(cfg)
	require.NoError(t, err)

	got := e.Estimate(geom.V3(0, 0, 9.81), geom.Identity())
	assertVec(t, geom.Vec3{}, got)
}

func TestEstimate_DegenerateOrientationReusesLast(t *testing.T) {
	yaw := geom.FromYaw(0.7)
	raw := geom.V3(0.5, 0.25, 9.7)

	ref, err := New(defaultConfig())
	require.NoError(t, err)
	e, err := New(defaultConfig())
	require.NoError(t, err)

	ref.Estimate(raw, yaw)
	e.Estimate(raw, yaw)

	want := ref.Estimate(raw.Scale(2), yaw)
	got := e.Estimate(raw.Scale(2), geom.Quat{})
	assertVec(t, want, got)
	assert.Equal(t, uint64(1), e.Stats().DegenerateOrientations)

	got = e.Estimate(raw, geom.Quat{W: math.NaN()})
	assert.True(t, got.IsFinite())
	assert.Equal(t, uint64(2), e.Stats().DegenerateOrientations)
}

func TestEstimate_DegenerateBeforeAnyValidUsesIdentity(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)
	got := e.Estimate(geom.V3(1, 2, 3), geom.Quat{})
	assertVec(t, geom.V3(-1, -2, -3), got)
}

func TestEstimate_NonFiniteAccelerationReusesLast(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)
	ref, err := New(defaultConfig())
	require.NoError(t, err)

	got := e.Estimate(geom.V3(math.NaN(), 0, 0), geom.Identity())
	assertVec(t, geom.Vec3{}, got)
	ref.Estimate(geom.Vec3{}, geom.Identity())

	e.Estimate(geom.V3(1, 1, 1), geom.Identity())
	ref.Estimate(geom.V3(1, 1, 1), geom.Identity())

	got = e.Estimate(geom.V3(math.Inf(1), 0, 0), geom.Identity())
	assertVec(t, ref.Estimate(geom.V3(1, 1, 1), geom.Identity()), got)

	st := e.Stats()
	assert.Equal(t, uint64(3), st.Calls)
	assert.Equal(t, uint64(2), st.NonFiniteAccelerations)
}

func TestEstimate_ConvergesForConstantInput(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	q := geom.FromYaw(-1.2)
	raw := geom.V3(0.3, -0.4, 9.81)
	want := geom.RotateInverse(q, raw).Neg()

	e.Estimate(geom.Vec3{}, q)
	var got geom.Vec3
	for i := 0; i < 40000; i++ {
		got = e.Estimate(raw, q)
	}
	assert.InDelta(t, want.X, got.X, 1e-6)
	assert.InDelta(t, want.Y, got.Y, 1e-6)
	assert.InDelta(t, want.Z, got.Z, 1e-6)
}

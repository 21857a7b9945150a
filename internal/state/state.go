// Package state holds the latest known robot state shared between the sensor
// ingestion worker and the control loop.
//
// Writers serialise on a mutex and publish a fresh immutable RobotState
// through an atomic pointer; readers load that pointer and copy the value.
// A snapshot therefore always contains whole field groups: the pose+twist
// group and the acceleration group are each replaced as a unit.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/timeutil"
)

var (
	// ErrNonFinite is returned when a sample contains NaN or ±Inf.
	ErrNonFinite = errors.New("non-finite sample")
	// ErrDegenerateQuaternion is returned when an orientation cannot be
	// normalised.
	ErrDegenerateQuaternion = geom.ErrDegenerateQuaternion
)

// Field group names used in diagnostics.
const (
	GroupPose  = "pose/twist"
	GroupAccel = "acceleration"
)

// PoseTwist is the pose and velocity of the base link as extracted from a
// single link-states message.
type PoseTwist struct {
	Position        geom.Vec3
	Orientation     geom.Quat
	LinearVelocity  geom.Vec3
	AngularVelocity geom.Vec3
}

// RobotState is a point-in-time view of the robot.
type RobotState struct {
	Position        geom.Vec3
	Orientation     geom.Quat
	LinearVelocity  geom.Vec3
	AngularVelocity geom.Vec3
	Acceleration    geom.Vec3 // raw, sensor frame

	HasPose  bool
	HasAccel bool

	PoseUpdates  uint64
	AccelUpdates uint64
	PoseTime     time.Time
	AccelTime    time.Time
}

// Ready reports whether both field groups have been written at least once.
func (s RobotState) Ready() bool { return s.HasPose && s.HasAccel }

// Missing names the field groups that have never been written.
func (s RobotState) Missing() []string {
	var missing []string
	if !s.HasPose {
		missing = append(missing, GroupPose)
	}
	if !s.HasAccel {
		missing = append(missing, GroupAccel)
	}
	return missing
}

// Buffer is the thread-safe holder of the latest RobotState.
type Buffer struct {
	clock timeutil.Clock

	mu  sync.Mutex // serialises writers
	cur atomic.Pointer[RobotState]

	rejected atomic.Uint64
}

// NewBuffer returns an empty buffer. The clock stamps receive times; nil
// means the real clock.
func NewBuffer(clock timeutil.Clock) *Buffer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	b := &Buffer{clock: clock}
	b.cur.Store(&RobotState{Orientation: geom.Identity()})
	return b
}

// Snapshot returns the current state by value. It never blocks.
func (b *Buffer) Snapshot() RobotState {
	return *b.cur.Load()
}

// Rejected returns how many writes were refused.
func (b *Buffer) Rejected() uint64 { return b.rejected.Load() }

// WritePoseTwist replaces the pose+twist group. The orientation is normalised
// before storage; a sample with non-finite values or a degenerate orientation
// is refused and the previous group is kept.
func (b *Buffer) WritePoseTwist(p PoseTwist) error {
	if !p.Position.IsFinite() || !p.LinearVelocity.IsFinite() || !p.AngularVelocity.IsFinite() {
		b.rejected.Add(1)
		return fmt.Errorf("pose/twist: %w", ErrNonFinite)
	}
	q, err := p.Orientation.Normalize()
	if err != nil {
		b.rejected.Add(1)
		return fmt.Errorf("pose/twist orientation %v: %w", p.Orientation.Array(), err)
	}

	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	next := *b.cur.Load()
	next.Position = p.Position
	next.Orientation = q
	next.LinearVelocity = p.LinearVelocity
	next.AngularVelocity = p.AngularVelocity
	next.HasPose = true
	next.PoseUpdates++
	next.PoseTime = now
	b.cur.Store(&next)
	return nil
}

// WriteAccel replaces the acceleration group.
func (b *Buffer) WriteAccel(a geom.Vec3) error {
	if !a.IsFinite() {
		b.rejected.Add(1)
		return fmt.Errorf("acceleration: %w", ErrNonFinite)
	}

	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	next := *b.cur.Load()
	next.Acceleration = a
	next.HasAccel = true
	next.AccelUpdates++
	next.AccelTime = now
	b.cur.Store(&next)
	return nil
}

// Package planner defines the locomotion planner consumed by the control
// loop and ships a kinematic reference implementation.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/state"
)

// Foot identifiers in the order they are reported.
const (
	FootLF = "LF"
	FootRF = "RF"
	FootLH = "LH"
	FootRH = "RH"
)

// AllFeet returns every foot, in stance order.
func AllFeet() []string { return []string{FootLF, FootRF, FootLH, FootRH} }

// Input is the per-tick planner input.
type Input struct {
	Position     geom.Vec3
	Velocity     geom.Vec3
	Acceleration geom.Vec3 // filtered
	Orientation  geom.Quat
	Command      state.VelocityCommand
}

// Output is a full desired motion for one tick. Swing-foot arrays are
// flattened per-foot xyz triples.
type Output struct {
	ContactFeet []string
	BaseAcc     geom.Vec3
	BaseVel     geom.Vec3
	BasePos     geom.Vec3
	BaseAngVel  geom.Vec3
	BaseQuat    geom.Quat
	FeetAcc     []float64
	FeetVel     []float64
	FeetPos     []float64
}

// Planner computes steady-state desired motion. Plan is called once per
// tick and must return within Period.
type Planner interface {
	Plan(Input) (Output, error)
	Period() time.Duration
}

// Anchorer is implemented by planners that can start from a given base
// position instead of the first measured one. The control loop anchors the
// planner at the end of the startup trajectory.
type Anchorer interface {
	Anchor(pos geom.Vec3)
}

var ErrInvalidInput = errors.New("invalid planner input")

// Kinematic is a reference planner that integrates the velocity command into
// a base trajectory at a fixed height with all four feet in stance. It keeps
// the node runnable end to end without a gait optimiser.
type Kinematic struct {
	period time.Duration
	height float64

	started bool
	anchor  *geom.Vec3
	pos     geom.Vec3
	yaw     float64
}

// NewKinematic returns a planner stepping every period and holding the base
// at height.
func NewKinematic(period time.Duration, height float64) (*Kinematic, error) {
	if period <= 0 {
		return nil, fmt.Errorf("planner period must be positive, got %v", period)
	}
	if height <= 0 {
		return nil, fmt.Errorf("planner height must be positive, got %v", height)
	}
	return &Kinematic{period: period, height: height}, nil
}

func (k *Kinematic) Period() time.Duration { return k.period }

// Anchor sets the x,y the reference starts from. It only has an effect
// before the first Plan.
func (k *Kinematic) Anchor(pos geom.Vec3) {
	if !k.started {
		k.anchor = &pos
	}
}

// Plan advances the reference by one period. The first call starts the
// reference at the anchor, or at the measured position if there is none,
// with the measured heading.
func (k *Kinematic) Plan(in Input) (Output, error) {
	if !in.Position.IsFinite() || !in.Acceleration.IsFinite() {
		return Output{}, fmt.Errorf("%w: non-finite base state", ErrInvalidInput)
	}
	if !k.started {
		start := in.Position
		if k.anchor != nil {
			start = *k.anchor
		}
		k.pos = geom.V3(start.X, start.Y, k.height)
		if q, err := in.Orientation.Normalize(); err == nil {
			k.yaw = q.Yaw()
		}
		k.started = true
	}

	dt := k.period.Seconds()
	cmd := in.Command
	k.yaw += cmd.YawRate * dt

	heading := geom.FromYaw(k.yaw)
	vel := geom.Rotate(heading, geom.V3(cmd.Forward, cmd.Lateral, 0))
	k.pos = k.pos.Add(vel.Scale(dt))
	k.pos.Z = k.height

	return Output{
		ContactFeet: AllFeet(),
		BasePos:     k.pos,
		BaseVel:     vel,
		BaseAngVel:  geom.V3(0, 0, cmd.YawRate),
		BaseQuat:    heading,
		FeetAcc:     []float64{},
		FeetVel:     []float64{},
		FeetPos:     []float64{},
	}, nil
}

// Func adapts a function to the Planner interface.
type Func struct {
	Step time.Duration
	Fn   func(Input) (Output, error)
}

func (f Func) Plan(in Input) (Output, error) { return f.Fn(in) }
func (f Func) Period() time.Duration          { return f.Step }

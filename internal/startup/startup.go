// Package startup produces the scripted base motion used while the robot
// settles from its spawn height to the steady-state stance height.
package startup

import (
	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/planner"
	"github.com/banshee-data/motiongen/internal/spline"
)

// Setpoint is a desired base position with its derivatives.
type Setpoint struct {
	Pos geom.Vec3
	Vel geom.Vec3
	Acc geom.Vec3
}

// Controller interpolates the base from (x0, y0, startHeight) to
// (x0, y0, steadyHeight) where (x0, y0) is the recorded initial position.
type Controller struct {
	interp     spline.Interpolator
	start, end geom.Vec3
}

// New builds a controller anchored at the initial base position. Only its
// horizontal components are used.
func New(initial geom.Vec3, startHeight, steadyHeight float64, interp spline.Interpolator) *Controller {
	return &Controller{
		interp: interp,
		start:  geom.V3(initial.X, initial.Y, startHeight),
		end:    geom.V3(initial.X, initial.Y, steadyHeight),
	}
}

// Start returns the segment start point.
func (c *Controller) Start() geom.Vec3 { return c.start }

// End returns the segment end point.
func (c *Controller) End() geom.Vec3 { return c.end }

// Command returns the setpoint at progress, clamped to [0,1].
func (c *Controller) Command(progress float64) Setpoint {
	pos, vel, acc := c.interp.Interpolate(c.start, c.end, spline.Clamp(progress))
	return Setpoint{Pos: pos, Vel: vel, Acc: acc}
}

// Output wraps the setpoint as a full desired motion: every foot in stance,
// no rotation and no swing targets.
func (c *Controller) Output(progress float64) planner.Output {
	sp := c.Command(progress)
	return planner.Output{
		ContactFeet: planner.AllFeet(),
		BaseAcc:     sp.Acc,
		BaseVel:     sp.Vel,
		BasePos:     sp.Pos,
		BaseQuat:    geom.Identity(),
		FeetAcc:     []float64{},
		FeetVel:     []float64{},
		FeetPos:     []float64{},
	}
}

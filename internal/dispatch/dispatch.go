// Package dispatch assembles the per-tick desired motion command and hands
// it to the outbound sinks.
package dispatch

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/motiongen/internal/planner"
)

var ErrMalformedCommand = errors.New("malformed command")

// Meta identifies the tick a command was produced on.
type Meta struct {
	Tick    uint64
	Elapsed time.Duration
	Phase   string
}

// Command is one desired motion message. Vectors are xyz, the quaternion is
// xyzw and the swing-foot arrays are flattened per-foot xyz triples.
type Command struct {
	Tick    uint64  `json:"tick"`
	Elapsed float64 `json:"elapsed"` // seconds
	Phase   string  `json:"phase"`

	ContactFeet []string   `json:"contact_feet"`
	BaseAcc     [3]float64 `json:"base_acc"`
	BaseVel     [3]float64 `json:"base_vel"`
	BasePos     [3]float64 `json:"base_pos"`
	BaseAngVel  [3]float64 `json:"base_angvel"`
	BaseQuat    [4]float64 `json:"base_quat"`
	FeetAcc     []float64  `json:"feet_acc"`
	FeetVel     []float64  `json:"feet_vel"`
	FeetPos     []float64  `json:"feet_pos"`
}

// SwingFeet returns the number of swing feet described by the command.
func (c *Command) SwingFeet() int { return len(c.FeetPos) / 3 }

// Clone returns a deep copy for sinks that hold commands past Publish.
func (c *Command) Clone() *Command {
	out := *c
	out.ContactFeet = append([]string{}, c.ContactFeet...)
	out.FeetAcc = append([]float64{}, c.FeetAcc...)
	out.FeetVel = append([]float64{}, c.FeetVel...)
	out.FeetPos = append([]float64{}, c.FeetPos...)
	return &out
}

// Sink receives every dispatched command. Publish must not block the
// control loop and must copy anything it keeps past the call.
type Sink interface {
	Publish(*Command)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(*Command)

func (f SinkFunc) Publish(c *Command) { f(c) }

// Dispatcher fans each command out to its sinks. Delivery is fire and
// forget: there is no acknowledgement and nothing is retried.
type Dispatcher struct {
	sinks []Sink

	dispatched atomic.Uint64
	rejected   atomic.Uint64
}

// New returns a dispatcher publishing to sinks in order.
func New(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// AddSink appends a sink. It must be called before the control loop starts.
func (d *Dispatcher) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

// Dispatch builds a Command from out and publishes it. Malformed outputs are
// rejected before any sink sees them.
func (d *Dispatcher) Dispatch(meta Meta, out planner.Output) (*Command, error) {
	cmd, err := Build(meta, out)
	if err != nil {
		d.rejected.Add(1)
		return nil, err
	}
	for _, s := range d.sinks {
		s.Publish(cmd)
	}
	d.dispatched.Add(1)
	return cmd, nil
}

// Dispatched returns how many commands reached the sinks.
func (d *Dispatcher) Dispatched() uint64 { return d.dispatched.Load() }

// Rejected returns how many outputs failed validation.
func (d *Dispatcher) Rejected() uint64 { return d.rejected.Load() }

// Build validates out and converts it to a Command.
func Build(meta Meta, out planner.Output) (*Command, error) {
	if err := validateSwing(out); err != nil {
		return nil, err
	}
	if !out.BaseQuat.IsFinite() || !out.BaseAcc.IsFinite() || !out.BaseVel.IsFinite() ||
		!out.BasePos.IsFinite() || !out.BaseAngVel.IsFinite() {
		return nil, fmt.Errorf("%w: non-finite base target", ErrMalformedCommand)
	}

	return &Command{
		Tick:        meta.Tick,
		Elapsed:     meta.Elapsed.Seconds(),
		Phase:       meta.Phase,
		ContactFeet: append([]string{}, out.ContactFeet...),
		BaseAcc:     out.BaseAcc.Array(),
		BaseVel:     out.BaseVel.Array(),
		BasePos:     out.BasePos.Array(),
		BaseAngVel:  out.BaseAngVel.Array(),
		BaseQuat:    out.BaseQuat.Array(),
		FeetAcc:     append([]float64{}, out.FeetAcc...),
		FeetVel:     append([]float64{}, out.FeetVel...),
		FeetPos:     append([]float64{}, out.FeetPos...),
	}, nil
}

func validateSwing(out planner.Output) error {
	arrays := []struct {
		name string
		v    []float64
	}{
		{"feet_acc", out.FeetAcc},
		{"feet_vel", out.FeetVel},
		{"feet_pos", out.FeetPos},
	}
	for _, a := range arrays {
		if len(a.v)%3 != 0 {
			return fmt.Errorf("%w: %s has %d values, not a multiple of 3", ErrMalformedCommand, a.name, len(a.v))
		}
		if len(a.v) != len(out.FeetPos) {
			return fmt.Errorf("%w: %s has %d values, feet_pos has %d", ErrMalformedCommand, a.name, len(a.v), len(out.FeetPos))
		}
		for _, f := range a.v {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("%w: non-finite %s", ErrMalformedCommand, a.name)
			}
		}
	}
	return nil
}

package state

import (
	"fmt"
	"math"
	"sync/atomic"
)

// VelocityCommand is the operator's locomotion request.
type VelocityCommand struct {
	Forward float64 `json:"velocity_forward"`
	Lateral float64 `json:"velocity_lateral"`
	YawRate float64 `json:"yaw_rate"`
}

func (c VelocityCommand) isFinite() bool {
	for _, v := range []float64{c.Forward, c.Lateral, c.YawRate} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Commands holds the current VelocityCommand. It starts at the configured
// default and is replaced whenever a velocity_command message arrives.
type Commands struct {
	cur     atomic.Pointer[VelocityCommand]
	updates atomic.Uint64
}

// NewCommands returns a holder initialised with def.
func NewCommands(def VelocityCommand) *Commands {
	c := &Commands{}
	c.cur.Store(&def)
	return c
}

// Get returns the current command.
func (c *Commands) Get() VelocityCommand { return *c.cur.Load() }

// Updates returns how many times Set has replaced the command.
func (c *Commands) Updates() uint64 { return c.updates.Load() }

// Set replaces the current command.
func (c *Commands) Set(v VelocityCommand) error {
	if !v.isFinite() {
		return fmt.Errorf("velocity command: %w", ErrNonFinite)
	}
	c.cur.Store(&v)
	c.updates.Add(1)
	return nil
}

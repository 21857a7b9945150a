package main

import (
	"fmt"

	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/sensors"
	"github.com/banshee-data/motiongen/internal/state"
)

// devFixture is the line loop replayed by -source dev: a robot standing
// still at height with gravity on the IMU.
func devFixture(height float64) ([]string, error) {
	world := sensors.Link{Name: "ground_plane::link", PoseTwist: state.PoseTwist{Orientation: geom.Identity()}}
	base := sensors.Link{
		Name: "robot::base",
		PoseTwist: state.PoseTwist{
			Position:    geom.V3(0, 0, height),
			Orientation: geom.Identity(),
		},
	}
	links, err := sensors.EncodeLinkStates([]sensors.Link{world, base})
	if err != nil {
		return nil, fmt.Errorf("dev link_states: %w", err)
	}
	imu, err := sensors.EncodeIMU(geom.V3(0, 0, 9.81))
	if err != nil {
		return nil, fmt.Errorf("dev imu: %w", err)
	}
	return []string{string(links), string(imu)}, nil
}

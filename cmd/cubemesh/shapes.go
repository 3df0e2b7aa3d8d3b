package main

import (
	"github.com/mikerobots/cube-builder/events"
	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/voxel"
	"github.com/mikerobots/cube-builder/workspace"
)

// shape writes itself into a workspace at one resolution and reports how many voxels changed.
type shape interface {
	fill(dm *workspace.DataManager, res voxel.Resolution) (int, error)
}

type boxShape struct {
	lo, hi [3]int
}

func (b boxShape) fill(dm *workspace.DataManager, res voxel.Resolution) (int, error) {
	return dm.Fill(b.lo, b.hi, res, true)
}

type sphereShape struct {
	center [3]int
	radius float64
}

// fill occupies every voxel whose center lies within radius of the center voxel's center.
func (s sphereShape) fill(dm *workspace.DataManager, res voxel.Resolution) (int, error) {
	r := int(s.radius) + 1
	n := 0
	for x := s.center[0] - r; x <= s.center[0]+r; x++ {
		for y := s.center[1] - r; y <= s.center[1]+r; y++ {
			for z := s.center[2] - r; z <= s.center[2]+r; z++ {
				dx, dy, dz := float64(x-s.center[0]), float64(y-s.center[1]), float64(z-s.center[2])
				if dx*dx+dy*dy+dz*dz > s.radius*s.radius {
					continue
				}
				if err := dm.SetVoxel([3]int{x, y, z}, res, true); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

// logProgress logs generation phases until the returned function is called.
func logProgress(bus *events.Bus, logger logging.Logger) func() {
	return events.Subscribe(bus, func(e events.MeshGeneration) {
		switch e.Phase {
		case events.Progress:
			logger.Debugw("generating", "fraction", e.Fraction)
		case events.Failed:
			logger.Errorw("generation failed", "key", e.Key, "error", e.Err)
		case events.Started, events.Completed, events.Cancelled:
			logger.Infow("generation "+e.Phase.String(), "key", e.Key, "lod", e.LOD, "resolution", e.Resolution)
		}
	})
}

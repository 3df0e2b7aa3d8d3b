// Package events defines the notifications exchanged between the voxel store, the surface
// generator and their consumers, and a synchronous bus that delivers them.
package events

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/spatialmath"
	"github.com/mikerobots/cube-builder/voxel"
)

// Kind identifies an event type.
type Kind uint8

// The event kinds.
const (
	KindVoxelChanged Kind = iota
	KindResolutionChanged
	KindWorkspaceResized
	KindMeshGeneration
	KindMemoryPressure
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindVoxelChanged:
		return "VoxelChanged"
	case KindResolutionChanged:
		return "ResolutionChanged"
	case KindWorkspaceResized:
		return "WorkspaceResized"
	case KindMeshGeneration:
		return "MeshGeneration"
	case KindMemoryPressure:
		return "MemoryPressure"
	case numKinds:
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Event is implemented by the payload types of this package only.
type Event interface {
	Kind() Kind
	isEvent()
}

// VoxelChanged reports an occupancy edit. Count is greater than one for box fills and clears,
// in which case Position is the box's low corner.
type VoxelChanged struct {
	GridID     uuid.UUID
	Position   voxel.Position
	Resolution voxel.Resolution
	Occupied   bool
	Count      int
	Region     spatialmath.AABB
}

// ResolutionChanged reports a change of the active editing resolution.
type ResolutionChanged struct {
	Old, New voxel.Resolution
}

// WorkspaceResized reports new workspace dimensions in centimeters.
type WorkspaceResized struct {
	Old, New r3.Vector
}

// Phase is the stage of a mesh generation task.
type Phase uint8

// The generation phases. Every task ends in exactly one of Completed, Failed or Cancelled.
const (
	Started Phase = iota
	Progress
	Completed
	Failed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Terminal reports whether no further events follow for the task.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Cancelled
}

// MeshGeneration reports the progress of one generation task. Mesh is set on Completed and Err on
// Failed and Cancelled.
type MeshGeneration struct {
	Phase      Phase
	Task       uuid.UUID
	GridID     uuid.UUID
	Key        uint64
	LOD        int
	Resolution voxel.Resolution
	Fraction   float64
	Mesh       *mesh.Mesh
	Err        error
}

// PressureLevel grades how urgently memory must be released.
type PressureLevel uint8

// The pressure levels, mildest first.
const (
	PressureNone PressureLevel = iota
	PressureModerate
	PressureHigh
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureNone:
		return "none"
	case PressureModerate:
		return "moderate"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	}
	return fmt.Sprintf("PressureLevel(%d)", l)
}

// MemoryPressure asks memory holders to shrink. Used and Total are in bytes when known.
type MemoryPressure struct {
	Level PressureLevel
	Used  uint64
	Total uint64
}

// Kind implements Event.
func (VoxelChanged) Kind() Kind { return KindVoxelChanged }

// Kind implements Event.
func (ResolutionChanged) Kind() Kind { return KindResolutionChanged }

// Kind implements Event.
func (WorkspaceResized) Kind() Kind { return KindWorkspaceResized }

// Kind implements Event.
func (MeshGeneration) Kind() Kind { return KindMeshGeneration }

// Kind implements Event.
func (MemoryPressure) Kind() Kind { return KindMemoryPressure }

func (VoxelChanged) isEvent()      {}
func (ResolutionChanged) isEvent() {}
func (WorkspaceResized) isEvent()  {}
func (MeshGeneration) isEvent()    {}
func (MemoryPressure) isEvent()    {}

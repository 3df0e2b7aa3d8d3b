// Package octree implements a sparse occupancy octree over a cubic volume of unit voxels. Nodes are
// arena-allocated and reference their children by index, so pruning and reuse never chase pointers.
package octree

import (
	"github.com/pkg/errors"
)

// Each node in the octree is either an internal node which links to other nodes, an empty leaf with
// no voxels, or a filled leaf whose whole cube is occupied. Empty children are never materialized;
// their slot holds the nil index.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
)

// nilIndex is the arena slot that stands for an empty, unmaterialized subtree.
const nilIndex = uint32(0)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

func (t NodeType) String() string {
	switch t {
	case InternalNode:
		return "internal"
	case LeafNodeEmpty:
		return "empty"
	case LeafNodeFilled:
		return "filled"
	default:
		return "unknown"
	}
}

var (
	// ErrOutOfBounds is returned when a coordinate lies outside the octree's fixed volume.
	ErrOutOfBounds = errors.New("position is outside the octree volume")
	// ErrOutOfMemory is returned when an edit would grow the arena past its node budget.
	ErrOutOfMemory = errors.New("octree node budget exhausted")
)

type node struct {
	nodeType NodeType
	children [8]uint32
}

// Option configures an Octree at construction.
type Option func(*Octree)

// WithMaxNodes caps the number of live nodes the arena may hold. Zero means unlimited.
func WithMaxNodes(n int) Option {
	return func(o *Octree) {
		o.maxNodes = n
	}
}

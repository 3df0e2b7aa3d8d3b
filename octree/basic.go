package octree

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/logging"
)

// Octree is a sparse boolean volume of Size()^3 unit voxels addressed by integer coordinates in
// [0, Size()). It is not safe for concurrent use; callers provide their own locking.
type Octree struct {
	logger logging.Logger

	nodes []node
	free  []uint32
	root  uint32

	size     int
	depth    int
	count    int
	live     int
	maxNodes int
}

// New creates an empty octree whose side length is the smallest power of two that is at least size.
func New(size int, logger logging.Logger, opts ...Option) (*Octree, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid side length (%d) for octree", size)
	}
	side := 1
	for side < size {
		side <<= 1
	}

	octree := &Octree{
		logger: logger,
		// slot zero is reserved for nilIndex
		nodes: make([]node, 1, 64),
		root:  nilIndex,
		size:  side,
		depth: bits.TrailingZeros(uint(side)),
	}
	for _, opt := range opts {
		opt(octree)
	}
	return octree, nil
}

// Size returns the side length of the volume in voxels.
func (octree *Octree) Size() int {
	return octree.size
}

// MaxDepth returns the depth of unit voxels below the root.
func (octree *Octree) MaxDepth() int {
	return octree.depth
}

// Count returns the number of occupied voxels.
func (octree *Octree) Count() int {
	return octree.count
}

// NodeCount returns the number of live nodes in the arena.
func (octree *Octree) NodeCount() int {
	return octree.live
}

// Contains reports whether the coordinate lies inside the volume.
func (octree *Octree) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < octree.size && y < octree.size && z < octree.size
}

// Set changes the occupancy of a single voxel and reports whether anything changed. On error the
// tree is left untouched.
func (octree *Octree) Set(x, y, z int, occupied bool) (bool, error) {
	if !octree.Contains(x, y, z) {
		return false, errors.Wrapf(ErrOutOfBounds, "(%d, %d, %d) in volume of side %d", x, y, z, octree.size)
	}
	p := [3]int{x, y, z}
	if octree.maxNodes > 0 {
		if needed := octree.nodesNeeded(p, occupied); octree.live+needed > octree.maxNodes {
			octree.logger.Debugw("octree node budget exceeded", "live", octree.live, "needed", needed, "max", octree.maxNodes)
			return false, ErrOutOfMemory
		}
	}

	root, changed := octree.set(octree.root, [3]int{}, octree.size, p, occupied)
	octree.root = root
	if changed {
		if occupied {
			octree.count++
		} else {
			octree.count--
		}
	}
	return changed, nil
}

// At reports whether the voxel is occupied. Out of volume coordinates are never occupied.
func (octree *Octree) At(x, y, z int) bool {
	if !octree.Contains(x, y, z) {
		return false
	}
	idx := octree.root
	origin := [3]int{}
	side := octree.size
	for {
		switch octree.kind(idx) {
		case LeafNodeEmpty:
			return false
		case LeafNodeFilled:
			return true
		case InternalNode:
		}
		side >>= 1
		var oct int
		oct, origin = childOctant(origin, side, [3]int{x, y, z})
		idx = octree.nodes[idx].children[oct]
	}
}

// Clear removes every voxel and releases the arena.
func (octree *Octree) Clear() {
	octree.nodes = octree.nodes[:1]
	octree.free = octree.free[:0]
	octree.root = nilIndex
	octree.count = 0
	octree.live = 0
}

func (octree *Octree) set(idx uint32, origin [3]int, side int, p [3]int, occupied bool) (uint32, bool) {
	kind := octree.kind(idx)
	if kind != InternalNode {
		if (kind == LeafNodeFilled) == occupied {
			return idx, false
		}
		if side == 1 {
			if occupied {
				return octree.alloc(LeafNodeFilled), true
			}
			octree.release(idx)
			return nilIndex, true
		}
		idx = octree.split(idx)
	}

	half := side >> 1
	oct, childOrigin := childOctant(origin, half, p)
	child, changed := octree.set(octree.nodes[idx].children[oct], childOrigin, half, p, occupied)
	octree.nodes[idx].children[oct] = child
	return octree.normalize(idx), changed
}

// nodesNeeded is an upper bound on the nodes a Set would allocate.
func (octree *Octree) nodesNeeded(p [3]int, occupied bool) int {
	idx := octree.root
	origin := [3]int{}
	side := octree.size
	for {
		kind := octree.kind(idx)
		if kind != InternalNode {
			if (kind == LeafNodeFilled) == occupied {
				return 0
			}
			levels := bits.TrailingZeros(uint(side))
			if kind == LeafNodeFilled {
				return 8 * levels
			}
			return levels + 1
		}
		side >>= 1
		var oct int
		oct, origin = childOctant(origin, side, p)
		idx = octree.nodes[idx].children[oct]
	}
}

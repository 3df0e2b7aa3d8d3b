package octree

import (
	"github.com/pkg/errors"
)

// Iterate calls fn for every occupied voxel in a fixed octant order. When numBatches > 0 the
// sequence is divided into numBatches contiguous ranges and only range myBatch is visited.
// Iteration stops early when fn returns false; the return value reports whether it ran to the end.
func (octree *Octree) Iterate(numBatches, myBatch int, fn func(x, y, z int) bool) bool {
	lo, hi := 0, octree.count
	if numBatches > 0 {
		batchSize := (octree.count + numBatches - 1) / numBatches
		lo = myBatch * batchSize
		hi = min(lo+batchSize, octree.count)
	}
	i := 0
	return octree.VisitLeaves(func(origin [3]int, side int) bool {
		volume := side * side * side
		if i+volume <= lo {
			i += volume
			return true
		}
		for z := origin[2]; z < origin[2]+side; z++ {
			for y := origin[1]; y < origin[1]+side; y++ {
				for x := origin[0]; x < origin[0]+side; x++ {
					if i >= hi {
						return false
					}
					if i >= lo && !fn(x, y, z) {
						return false
					}
					i++
				}
			}
		}
		return true
	}) || i >= hi
}

// VisitLeaves calls fn with the origin and side of every filled leaf cube.
func (octree *Octree) VisitLeaves(fn func(origin [3]int, side int) bool) bool {
	return octree.visit(octree.root, [3]int{}, octree.size, fn)
}

func (octree *Octree) visit(idx uint32, origin [3]int, side int, fn func([3]int, int) bool) bool {
	switch octree.kind(idx) {
	case LeafNodeEmpty:
		return true
	case LeafNodeFilled:
		return fn(origin, side)
	case InternalNode:
	}
	half := side >> 1
	for oct, child := range octree.nodes[idx].children {
		if child == nilIndex {
			continue
		}
		if !octree.visit(child, octantOrigin(origin, half, oct), half, fn) {
			return false
		}
	}
	return true
}

// OccupiedBounds returns the inclusive min and max corners of the occupied voxels.
func (octree *Octree) OccupiedBounds() (lo, hi [3]int, ok bool) {
	octree.VisitLeaves(func(origin [3]int, side int) bool {
		if !ok {
			lo, hi, ok = origin, origin, true
		}
		for axis := 0; axis < 3; axis++ {
			lo[axis] = min(lo[axis], origin[axis])
			hi[axis] = max(hi[axis], origin[axis]+side-1)
		}
		return true
	})
	return lo, hi, ok
}

// Fill sets every voxel in the inclusive box [lo, hi] and returns how many voxels changed. Aligned
// sub-cubes become single leaves. The box must lie inside the volume. When the node budget would
// be exceeded the tree is restored and ErrOutOfMemory is returned.
func (octree *Octree) Fill(lo, hi [3]int, occupied bool) (int, error) {
	for axis := 0; axis < 3; axis++ {
		if lo[axis] > hi[axis] {
			return 0, nil
		}
	}
	if !octree.Contains(lo[0], lo[1], lo[2]) || !octree.Contains(hi[0], hi[1], hi[2]) {
		return 0, errors.Wrapf(ErrOutOfBounds, "box %v-%v in volume of side %d", lo, hi, octree.size)
	}

	var saved *Octree
	if octree.maxNodes > 0 {
		saved = octree.clone()
	}
	before := octree.count
	octree.root = octree.fill(octree.root, [3]int{}, octree.size, lo, hi, occupied)
	if octree.maxNodes > 0 && octree.live > octree.maxNodes {
		octree.logger.Debugw("octree fill exceeded node budget", "live", octree.live, "max", octree.maxNodes)
		*octree = *saved
		return 0, ErrOutOfMemory
	}
	changed := octree.count - before
	if changed < 0 {
		changed = -changed
	}
	return changed, nil
}

func (octree *Octree) fill(idx uint32, origin [3]int, side int, lo, hi [3]int, occupied bool) uint32 {
	inside := true
	for axis := 0; axis < 3; axis++ {
		if origin[axis]+side-1 < lo[axis] || origin[axis] > hi[axis] {
			return idx
		}
		if origin[axis] < lo[axis] || origin[axis]+side-1 > hi[axis] {
			inside = false
		}
	}

	kind := octree.kind(idx)
	if (kind == LeafNodeFilled) == occupied && kind != InternalNode {
		return idx
	}
	if inside {
		octree.count -= octree.subtreeCount(idx, side)
		octree.release(idx)
		if !occupied {
			return nilIndex
		}
		octree.count += side * side * side
		return octree.alloc(LeafNodeFilled)
	}

	if kind != InternalNode {
		idx = octree.split(idx)
	}
	half := side >> 1
	for oct := 0; oct < 8; oct++ {
		child := octree.fill(octree.nodes[idx].children[oct], octantOrigin(origin, half, oct), half, lo, hi, occupied)
		octree.nodes[idx].children[oct] = child
	}
	return octree.normalize(idx)
}

func (octree *Octree) clone() *Octree {
	c := *octree
	c.nodes = append([]node(nil), octree.nodes...)
	c.free = append([]uint32(nil), octree.free...)
	return &c
}

package octree

func (octree *Octree) kind(idx uint32) NodeType {
	if idx == nilIndex {
		return LeafNodeEmpty
	}
	return octree.nodes[idx].nodeType
}

// alloc takes a slot from the free list, or grows the arena when the list is empty.
func (octree *Octree) alloc(t NodeType) uint32 {
	octree.live++
	if n := len(octree.free); n > 0 {
		idx := octree.free[n-1]
		octree.free = octree.free[:n-1]
		octree.nodes[idx] = node{nodeType: t}
		return idx
	}
	octree.nodes = append(octree.nodes, node{nodeType: t})
	return uint32(len(octree.nodes) - 1)
}

// release returns a subtree's slots to the free list.
func (octree *Octree) release(idx uint32) {
	if idx == nilIndex {
		return
	}
	if octree.nodes[idx].nodeType == InternalNode {
		for _, child := range octree.nodes[idx].children {
			octree.release(child)
		}
	}
	octree.nodes[idx] = node{}
	octree.free = append(octree.free, idx)
	octree.live--
}

// split turns a leaf into an internal node with the same occupancy. A filled leaf gets eight filled
// children; an empty leaf gets none, since empty children stay unmaterialized.
func (octree *Octree) split(idx uint32) uint32 {
	if idx == nilIndex {
		return octree.alloc(InternalNode)
	}
	wasFilled := octree.nodes[idx].nodeType == LeafNodeFilled
	octree.nodes[idx].nodeType = InternalNode
	octree.nodes[idx].children = [8]uint32{}
	if wasFilled {
		for i := range octree.nodes[idx].children {
			child := octree.alloc(LeafNodeFilled)
			octree.nodes[idx].children[i] = child
		}
	}
	return idx
}

// normalize prunes an internal node whose children are all empty and collapses one whose
// children are all filled leaves.
func (octree *Octree) normalize(idx uint32) uint32 {
	n := octree.nodes[idx]
	if n.nodeType != InternalNode {
		return idx
	}
	empty, filled := true, true
	for _, child := range n.children {
		switch octree.kind(child) {
		case LeafNodeEmpty:
			filled = false
		case LeafNodeFilled:
			empty = false
		case InternalNode:
			return idx
		}
	}
	switch {
	case empty:
		octree.release(idx)
		return nilIndex
	case filled:
		for _, child := range n.children {
			octree.release(child)
		}
		octree.nodes[idx] = node{nodeType: LeafNodeFilled}
	}
	return idx
}

// childOctant returns the octant of p within a node at origin whose children have side half,
// and the origin of that child.
func childOctant(origin [3]int, half int, p [3]int) (int, [3]int) {
	oct := 0
	child := origin
	for axis := 0; axis < 3; axis++ {
		if p[axis] >= origin[axis]+half {
			oct |= 1 << axis
			child[axis] += half
		}
	}
	return oct, child
}

func octantOrigin(origin [3]int, half, oct int) [3]int {
	child := origin
	for axis := 0; axis < 3; axis++ {
		if oct&(1<<axis) != 0 {
			child[axis] += half
		}
	}
	return child
}

// subtreeCount is the number of occupied voxels below idx.
func (octree *Octree) subtreeCount(idx uint32, side int) int {
	switch octree.kind(idx) {
	case LeafNodeFilled:
		return side * side * side
	case LeafNodeEmpty:
		return 0
	case InternalNode:
	}
	total := 0
	for _, child := range octree.nodes[idx].children {
		total += octree.subtreeCount(child, side>>1)
	}
	return total
}

package octree

import (
	"testing"

	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/logging"
)

func TestNodeCreation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(4, logger)
	test.That(t, err, test.ShouldBeNil)

	t.Run("allocate filled leaf node", func(t *testing.T) {
		idx := octree.alloc(LeafNodeFilled)
		test.That(t, idx, test.ShouldNotEqual, nilIndex)
		test.That(t, octree.kind(idx), test.ShouldEqual, LeafNodeFilled)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 1)
		octree.release(idx)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
	})

	t.Run("released slots are reused", func(t *testing.T) {
		a := octree.alloc(InternalNode)
		octree.release(a)
		b := octree.alloc(LeafNodeFilled)
		test.That(t, b, test.ShouldEqual, a)
		octree.release(b)
	})

	t.Run("nil index is an empty leaf", func(t *testing.T) {
		test.That(t, octree.kind(nilIndex), test.ShouldEqual, LeafNodeEmpty)
	})
}

func TestSplitIntoOctants(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(4, logger)
	test.That(t, err, test.ShouldBeNil)

	t.Run("splitting an empty leaf materializes no children", func(t *testing.T) {
		idx := octree.split(nilIndex)
		test.That(t, octree.kind(idx), test.ShouldEqual, InternalNode)
		test.That(t, octree.nodes[idx].children, test.ShouldResemble, [8]uint32{})
		test.That(t, octree.normalize(idx), test.ShouldEqual, nilIndex)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
	})

	t.Run("splitting a filled leaf yields eight filled children", func(t *testing.T) {
		idx := octree.alloc(LeafNodeFilled)
		idx = octree.split(idx)
		test.That(t, octree.kind(idx), test.ShouldEqual, InternalNode)
		for _, child := range octree.nodes[idx].children {
			test.That(t, octree.kind(child), test.ShouldEqual, LeafNodeFilled)
		}
		test.That(t, octree.NodeCount(), test.ShouldEqual, 9)

		// eight filled children collapse back into one leaf
		test.That(t, octree.normalize(idx), test.ShouldEqual, idx)
		test.That(t, octree.kind(idx), test.ShouldEqual, LeafNodeFilled)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 1)
		octree.release(idx)
	})
}

func TestChildOctant(t *testing.T) {
	for _, tc := range []struct {
		p      [3]int
		oct    int
		origin [3]int
	}{
		{[3]int{0, 0, 0}, 0, [3]int{0, 0, 0}},
		{[3]int{3, 0, 0}, 1, [3]int{2, 0, 0}},
		{[3]int{0, 2, 0}, 2, [3]int{0, 2, 0}},
		{[3]int{1, 1, 3}, 4, [3]int{0, 0, 2}},
		{[3]int{2, 3, 2}, 7, [3]int{2, 2, 2}},
	} {
		oct, origin := childOctant([3]int{}, 2, tc.p)
		test.That(t, oct, test.ShouldEqual, tc.oct)
		test.That(t, origin, test.ShouldResemble, tc.origin)
		test.That(t, octantOrigin([3]int{}, 2, oct), test.ShouldResemble, tc.origin)
	}
}

// validateOctree walks the arena and checks structural invariants, returning the occupied count.
func validateOctree(t *testing.T, octree *Octree, idx uint32, side int) int {
	t.Helper()
	switch octree.kind(idx) {
	case LeafNodeEmpty:
		test.That(t, idx, test.ShouldEqual, nilIndex)
		return 0
	case LeafNodeFilled:
		return side * side * side
	case InternalNode:
	}
	test.That(t, side, test.ShouldBeGreaterThan, 1)
	empty, filled := 0, 0
	total := 0
	for _, child := range octree.nodes[idx].children {
		switch octree.kind(child) {
		case LeafNodeEmpty:
			empty++
		case LeafNodeFilled:
			filled++
		case InternalNode:
		}
		total += validateOctree(t, octree, child, side/2)
	}
	// pruned and collapsed nodes never linger
	test.That(t, empty, test.ShouldBeLessThan, 8)
	test.That(t, filled, test.ShouldBeLessThan, 8)
	return total
}

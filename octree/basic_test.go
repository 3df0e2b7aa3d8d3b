package octree

import (
	"errors"
	"testing"

	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/logging"
)

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("rounds up to a power of two", func(t *testing.T) {
		octree, err := New(100, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, octree.Size(), test.ShouldEqual, 128)
		test.That(t, octree.MaxDepth(), test.ShouldEqual, 7)
		test.That(t, octree.Count(), test.ShouldEqual, 0)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
	})

	t.Run("rejects a non-positive side", func(t *testing.T) {
		_, err := New(0, logger)
		test.That(t, err, test.ShouldBeError, "invalid side length (0) for octree")
	})
}

func TestSetAndAt(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(16, logger)
	test.That(t, err, test.ShouldBeNil)

	t.Run("round trip", func(t *testing.T) {
		for _, p := range [][3]int{{0, 0, 0}, {15, 15, 15}, {3, 9, 12}, {8, 0, 7}} {
			changed, err := octree.Set(p[0], p[1], p[2], true)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, changed, test.ShouldBeTrue)
			test.That(t, octree.At(p[0], p[1], p[2]), test.ShouldBeTrue)

			changed, err = octree.Set(p[0], p[1], p[2], true)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, changed, test.ShouldBeFalse)

			changed, err = octree.Set(p[0], p[1], p[2], false)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, changed, test.ShouldBeTrue)
			test.That(t, octree.At(p[0], p[1], p[2]), test.ShouldBeFalse)
		}
		test.That(t, octree.Count(), test.ShouldEqual, 0)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
	})

	t.Run("out of bounds fails without mutation", func(t *testing.T) {
		_, err := octree.Set(1, 1, 1, true)
		test.That(t, err, test.ShouldBeNil)
		nodes := octree.NodeCount()

		for _, p := range [][3]int{{-1, 0, 0}, {16, 0, 0}, {0, 0, 99}} {
			_, err := octree.Set(p[0], p[1], p[2], true)
			test.That(t, errors.Is(err, ErrOutOfBounds), test.ShouldBeTrue)
			test.That(t, octree.At(p[0], p[1], p[2]), test.ShouldBeFalse)
		}
		test.That(t, octree.Count(), test.ShouldEqual, 1)
		test.That(t, octree.NodeCount(), test.ShouldEqual, nodes)
		octree.Clear()
	})

	t.Run("eight siblings collapse into one leaf", func(t *testing.T) {
		for z := 0; z < 2; z++ {
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					_, err := octree.Set(x, y, z, true)
					test.That(t, err, test.ShouldBeNil)
				}
			}
		}
		test.That(t, octree.Count(), test.ShouldEqual, 8)
		// root, two internal levels, and the collapsed 2^3 leaf
		test.That(t, octree.NodeCount(), test.ShouldEqual, 4)
		test.That(t, validateOctree(t, octree, octree.root, octree.Size()), test.ShouldEqual, 8)

		_, err := octree.Set(1, 1, 1, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, octree.Count(), test.ShouldEqual, 7)
		test.That(t, octree.At(1, 1, 1), test.ShouldBeFalse)
		test.That(t, octree.At(0, 1, 1), test.ShouldBeTrue)
		test.That(t, validateOctree(t, octree, octree.root, octree.Size()), test.ShouldEqual, 7)
		octree.Clear()
	})
}

func TestSparsity(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(512, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = octree.Set(0, 0, 0, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.NodeCount(), test.ShouldBeLessThanOrEqualTo, octree.MaxDepth()+1)

	_, err = octree.Set(511, 300, 17, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.NodeCount(), test.ShouldBeLessThanOrEqualTo, 2*(octree.MaxDepth()+1))

	_, err = octree.Set(0, 0, 0, false)
	test.That(t, err, test.ShouldBeNil)
	_, err = octree.Set(511, 300, 17, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
}

func TestNodeBudget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(16, logger, WithMaxNodes(6))
	test.That(t, err, test.ShouldBeNil)

	_, err = octree.Set(0, 0, 0, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.NodeCount(), test.ShouldEqual, 5)

	_, err = octree.Set(15, 15, 15, true)
	test.That(t, errors.Is(err, ErrOutOfMemory), test.ShouldBeTrue)
	test.That(t, octree.At(15, 15, 15), test.ShouldBeFalse)
	test.That(t, octree.Count(), test.ShouldEqual, 1)
	test.That(t, octree.NodeCount(), test.ShouldEqual, 5)

	_, err = octree.Fill([3]int{0, 0, 0}, [3]int{15, 14, 15}, true)
	test.That(t, errors.Is(err, ErrOutOfMemory), test.ShouldBeTrue)
	test.That(t, octree.Count(), test.ShouldEqual, 1)
}

func TestFill(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(16, logger)
	test.That(t, err, test.ShouldBeNil)

	t.Run("aligned cube is a single leaf", func(t *testing.T) {
		n, err := octree.Fill([3]int{8, 8, 8}, [3]int{15, 15, 15}, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 512)
		test.That(t, octree.Count(), test.ShouldEqual, 512)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 2)
		octree.Clear()
	})

	t.Run("unaligned box", func(t *testing.T) {
		n, err := octree.Fill([3]int{1, 2, 3}, [3]int{6, 4, 3}, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 6*3*1)
		test.That(t, octree.At(1, 2, 3), test.ShouldBeTrue)
		test.That(t, octree.At(6, 4, 3), test.ShouldBeTrue)
		test.That(t, octree.At(7, 4, 3), test.ShouldBeFalse)
		test.That(t, validateOctree(t, octree, octree.root, octree.Size()), test.ShouldEqual, 18)

		n, err = octree.Fill([3]int{0, 0, 0}, [3]int{15, 15, 15}, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 18)
		test.That(t, octree.NodeCount(), test.ShouldEqual, 0)
	})

	t.Run("out of bounds box", func(t *testing.T) {
		_, err := octree.Fill([3]int{0, 0, 0}, [3]int{16, 1, 1}, true)
		test.That(t, errors.Is(err, ErrOutOfBounds), test.ShouldBeTrue)
		test.That(t, octree.Count(), test.ShouldEqual, 0)
	})
}

func TestIterate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	octree, err := New(8, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = octree.Fill([3]int{0, 0, 0}, [3]int{3, 3, 3}, true)
	test.That(t, err, test.ShouldBeNil)
	_, err = octree.Set(7, 7, 7, true)
	test.That(t, err, test.ShouldBeNil)

	t.Run("visits every voxel once", func(t *testing.T) {
		seen := map[[3]int]bool{}
		done := octree.Iterate(0, 0, func(x, y, z int) bool {
			p := [3]int{x, y, z}
			test.That(t, seen[p], test.ShouldBeFalse)
			seen[p] = true
			return true
		})
		test.That(t, done, test.ShouldBeTrue)
		test.That(t, len(seen), test.ShouldEqual, 65)
		test.That(t, seen[[3]int{7, 7, 7}], test.ShouldBeTrue)
	})

	t.Run("batches partition the sequence", func(t *testing.T) {
		total := 0
		for batch := 0; batch < 3; batch++ {
			octree.Iterate(3, batch, func(x, y, z int) bool {
				total++
				return true
			})
		}
		test.That(t, total, test.ShouldEqual, 65)
	})

	t.Run("stops early", func(t *testing.T) {
		n := 0
		done := octree.Iterate(0, 0, func(x, y, z int) bool {
			n++
			return n < 10
		})
		test.That(t, done, test.ShouldBeFalse)
		test.That(t, n, test.ShouldEqual, 10)
	})

	t.Run("occupied bounds", func(t *testing.T) {
		lo, hi, ok := octree.OccupiedBounds()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, lo, test.ShouldResemble, [3]int{0, 0, 0})
		test.That(t, hi, test.ShouldResemble, [3]int{7, 7, 7})
	})
}

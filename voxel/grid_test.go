package voxel

import (
	"errors"
	"slices"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/spatialmath"
)

func TestResolution(t *testing.T) {
	test.That(t, Size1cm.Centimeters(), test.ShouldEqual, 1)
	test.That(t, Size8cm.Centimeters(), test.ShouldEqual, 8)
	test.That(t, Size512cm.Centimeters(), test.ShouldEqual, 512)
	test.That(t, Size32cm.Factor(Size8cm), test.ShouldEqual, 4)
	test.That(t, Size8cm.Factor(Size32cm), test.ShouldEqual, 0)
	test.That(t, len(AllResolutions()), test.ShouldEqual, NumResolutions)
	test.That(t, Resolution(NumResolutions).Valid(), test.ShouldBeFalse)

	res, err := ParseResolution("16cm")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldEqual, Size16cm)
	res, err = ParseResolution(" 4 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldEqual, Size4cm)
	_, err = ParseResolution("3cm")
	test.That(t, err, test.ShouldNotBeNil)

	text, err := Size64cm.MarshalText()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(text), test.ShouldEqual, "64cm")
}

func TestPosition(t *testing.T) {
	p := NewPosition(1, 2, 3, Size8cm)
	test.That(t, p.WorldMin(), test.ShouldResemble, r3.Vector{X: 8, Y: 16, Z: 24})
	test.That(t, p.WorldBounds(), test.ShouldResemble, spatialmath.AABB{Min: r3.Vector{X: 8, Y: 16, Z: 24}, Max: r3.Vector{X: 16, Y: 24, Z: 32}})
	test.That(t, p == NewPosition(1, 2, 3, Size8cm), test.ShouldBeTrue)
	test.That(t, p == NewPosition(1, 2, 3, Size4cm), test.ShouldBeFalse)
}

func TestGridRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, err := NewGrid(Size8cm, [3]int{16, 16, 16}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Bounds().Max, test.ShouldResemble, r3.Vector{X: 128, Y: 128, Z: 128})

	for _, p := range []Position{
		NewPosition(0, 0, 0, Size8cm),
		NewPosition(15, 15, 15, Size8cm),
		NewPosition(7, 0, 12, Size8cm),
	} {
		test.That(t, g.Set(p, true), test.ShouldBeNil)
		test.That(t, g.IsOccupied(p), test.ShouldBeTrue)
		test.That(t, g.Set(p, false), test.ShouldBeNil)
		test.That(t, g.IsOccupied(p), test.ShouldBeFalse)
	}
	test.That(t, g.Count(), test.ShouldEqual, 0)
	test.That(t, g.NodeCount(), test.ShouldEqual, 0)

	t.Run("out of bounds is atomic", func(t *testing.T) {
		test.That(t, g.Set(NewPosition(2, 2, 2, Size8cm), true), test.ShouldBeNil)
		version := g.Version()
		fingerprint := g.Fingerprint()

		for _, p := range []Position{
			NewPosition(16, 0, 0, Size8cm),
			NewPosition(0, -1, 0, Size8cm),
			NewPosition(0, 0, 0, Size4cm),
		} {
			err := g.Set(p, true)
			test.That(t, errors.Is(err, ErrOutOfBounds), test.ShouldBeTrue)
			test.That(t, g.IsOccupied(p), test.ShouldBeFalse)
		}
		test.That(t, g.Version(), test.ShouldEqual, version)
		test.That(t, g.Fingerprint(), test.ShouldEqual, fingerprint)
		test.That(t, g.Count(), test.ShouldEqual, 1)
	})
}

func TestGridDimensionsBelowOctreeSize(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, err := NewGrid(Size1cm, [3]int{5, 3, 2}, logger)
	test.That(t, err, test.ShouldBeNil)

	// the octree rounds up to 8 but the grid stays 5x3x2
	err = g.Set(NewPosition(5, 0, 0, Size1cm), true)
	test.That(t, errors.Is(err, ErrOutOfBounds), test.ShouldBeTrue)
	test.That(t, g.Set(NewPosition(4, 2, 1, Size1cm), true), test.ShouldBeNil)

	_, err = NewGrid(Size1cm, [3]int{5, 0, 2}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGridWatch(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, err := NewGrid(Size4cm, [3]int{8, 8, 8}, logger)
	test.That(t, err, test.ShouldBeNil)

	var changes []Change
	unwatch := g.Watch(func(c Change) { changes = append(changes, c) })

	p := NewPosition(1, 0, 2, Size4cm)
	test.That(t, g.Set(p, true), test.ShouldBeNil)
	// no-op edits are not reported
	test.That(t, g.Set(p, true), test.ShouldBeNil)
	test.That(t, len(changes), test.ShouldEqual, 1)
	test.That(t, changes[0].GridID, test.ShouldEqual, g.ID())
	test.That(t, changes[0].Position, test.ShouldResemble, p)
	test.That(t, changes[0].Occupied, test.ShouldBeTrue)
	test.That(t, changes[0].Region, test.ShouldResemble, spatialmath.AABB{Min: r3.Vector{X: 4, Y: 0, Z: 8}, Max: r3.Vector{X: 8, Y: 4, Z: 12}})

	n, err := g.Fill(NewPosition(0, 0, 0, Size4cm), NewPosition(1, 1, 1, Size4cm), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 8)
	test.That(t, len(changes), test.ShouldEqual, 2)
	test.That(t, changes[1].Count, test.ShouldEqual, 8)
	test.That(t, changes[1].Region, test.ShouldResemble, spatialmath.AABB{Max: r3.Vector{X: 8, Y: 8, Z: 8}})

	g.Clear()
	test.That(t, len(changes), test.ShouldEqual, 3)
	test.That(t, changes[2].Count, test.ShouldEqual, 9)
	test.That(t, changes[2].Region, test.ShouldResemble, spatialmath.AABB{Max: r3.Vector{X: 8, Y: 8, Z: 12}})

	unwatch()
	test.That(t, g.Set(p, true), test.ShouldBeNil)
	test.That(t, len(changes), test.ShouldEqual, 3)
}

func TestOccupiedPositions(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, err := NewGrid(Size2cm, [3]int{10, 10, 10}, logger)
	test.That(t, err, test.ShouldBeNil)

	want := []Position{
		NewPosition(0, 0, 0, Size2cm),
		NewPosition(9, 9, 9, Size2cm),
		NewPosition(3, 4, 5, Size2cm),
	}
	for _, p := range want {
		test.That(t, g.Set(p, true), test.ShouldBeNil)
	}

	collect := func() []Position {
		return slices.Collect(g.OccupiedPositions())
	}
	first := collect()
	test.That(t, len(first), test.ShouldEqual, 3)
	for _, p := range want {
		test.That(t, slices.Contains(first, p), test.ShouldBeTrue)
	}
	// the sequence is restartable and deterministic
	test.That(t, collect(), test.ShouldResemble, first)

	// early exit
	n := 0
	for range g.OccupiedPositions() {
		n++
		break
	}
	test.That(t, n, test.ShouldEqual, 1)

	// reconstruct another grid from the sequence
	copied, err := NewGrid(Size2cm, [3]int{10, 10, 10}, logger)
	test.That(t, err, test.ShouldBeNil)
	for p := range g.OccupiedPositions() {
		test.That(t, copied.Set(p, true), test.ShouldBeNil)
	}
	test.That(t, copied.Fingerprint(), test.ShouldEqual, g.Fingerprint())

	bounds, ok := g.OccupiedBounds()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bounds, test.ShouldResemble, spatialmath.AABB{Max: r3.Vector{X: 20, Y: 20, Z: 20}})
}

func TestGridNodeBudget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, err := NewGrid(Size1cm, [3]int{16, 16, 16}, logger, WithMaxNodes(5))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, g.Set(NewPosition(0, 0, 0, Size1cm), true), test.ShouldBeNil)
	err = g.Set(NewPosition(15, 15, 15, Size1cm), true)
	test.That(t, errors.Is(err, ErrOutOfMemory), test.ShouldBeTrue)
	test.That(t, g.Count(), test.ShouldEqual, 1)
}

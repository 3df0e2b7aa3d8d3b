package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestTriangle(t *testing.T) {
	corners := [3]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 3, Z: 0}, {X: 3, Y: 0, Z: 0}}
	tri := NewTriangle(corners[0], corners[1], corners[2])

	test.That(t, tri.Corners(), test.ShouldResemble, corners)
	test.That(t, tri.Normal(), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: -1})
	test.That(t, tri.Degenerate(), test.ShouldBeFalse)
	test.That(t, tri.Area(), test.ShouldEqual, 4.5)
	test.That(t, tri.Centroid(), test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: 0})

	near := func(got, want r3.Vector) {
		t.Helper()
		test.That(t, R3VectorAlmostEqual(got, want, 1e-9), test.ShouldBeTrue)
	}

	t.Run("closest point by region", func(t *testing.T) {
		// face
		near(tri.ClosestPoint(r3.Vector{X: 1, Y: 1, Z: 1}), r3.Vector{X: 1, Y: 1, Z: 0})
		// corners
		near(tri.ClosestPoint(r3.Vector{X: -1, Y: -1, Z: 0}), r3.Vector{X: 0, Y: 0, Z: 0})
		near(tri.ClosestPoint(r3.Vector{X: -1, Y: 5, Z: 2}), r3.Vector{X: 0, Y: 3, Z: 0})
		near(tri.ClosestPoint(r3.Vector{X: 5, Y: -1, Z: -2}), r3.Vector{X: 3, Y: 0, Z: 0})
		// edges
		near(tri.ClosestPoint(r3.Vector{X: 1, Y: -2, Z: 1}), r3.Vector{X: 1, Y: 0, Z: 0})
		near(tri.ClosestPoint(r3.Vector{X: -2, Y: 1, Z: 1}), r3.Vector{X: 0, Y: 1, Z: 0})
		near(tri.ClosestPoint(r3.Vector{X: 3, Y: 2, Z: 1}), r3.Vector{X: 2, Y: 1, Z: 0})

		test.That(t, tri.DistanceToPoint(r3.Vector{X: 1, Y: 1, Z: 2}), test.ShouldAlmostEqual, 2.)
	})

	t.Run("tilted", func(t *testing.T) {
		tilted := NewTriangle(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 50, Y: 0, Z: 0}, r3.Vector{X: 0, Y: 30, Z: 40})
		// (0, 4, -3) is parallel to the normal
		near(tilted.ClosestPoint(r3.Vector{X: 1, Y: 3 + 4, Z: 4 - 3}), r3.Vector{X: 1, Y: 3, Z: 4})
	})

	t.Run("degenerate", func(t *testing.T) {
		line := NewTriangle(r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 1, Y: 0, Z: 0}, r3.Vector{X: 2, Y: 0, Z: 0})
		test.That(t, line.Degenerate(), test.ShouldBeTrue)
		test.That(t, line.Area(), test.ShouldEqual, 0.)
		near(line.ClosestPoint(r3.Vector{X: 1, Y: 1, Z: 0}), r3.Vector{X: 1, Y: 0, Z: 0})
		near(line.ClosestPoint(r3.Vector{X: 4, Y: 0, Z: 0}), r3.Vector{X: 2, Y: 0, Z: 0})
	})
}

func TestClosestPointSegmentPoint(t *testing.T) {
	a, b := r3.Vector{X: 0, Y: 0, Z: 0}, r3.Vector{X: 4, Y: 0, Z: 0}
	test.That(t, ClosestPointSegmentPoint(a, b, r3.Vector{X: 2, Y: 5, Z: 0}), test.ShouldResemble, r3.Vector{X: 2, Y: 0, Z: 0})
	test.That(t, ClosestPointSegmentPoint(a, b, r3.Vector{X: -3, Y: 1, Z: 0}), test.ShouldResemble, a)
	test.That(t, ClosestPointSegmentPoint(a, b, r3.Vector{X: 9, Y: 1, Z: 0}), test.ShouldResemble, b)
	test.That(t, ClosestPointSegmentPoint(a, a, r3.Vector{X: 9, Y: 1, Z: 0}), test.ShouldResemble, a)
}

package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestAABB(t *testing.T) {
	box := NewAABB(r3.Vector{X: 8, Y: 8, Z: 8}, r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, box.Min, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, box.Max, test.ShouldResemble, r3.Vector{X: 8, Y: 8, Z: 8})
	test.That(t, box.Size(), test.ShouldResemble, r3.Vector{X: 8, Y: 8, Z: 8})
	test.That(t, box.Center(), test.ShouldResemble, r3.Vector{X: 4, Y: 4, Z: 4})

	t.Run("empty box absorbs unions", func(t *testing.T) {
		empty := EmptyAABB()
		test.That(t, empty.IsEmpty(), test.ShouldBeTrue)
		test.That(t, empty.Size(), test.ShouldResemble, r3.Vector{})
		test.That(t, empty.Union(box), test.ShouldResemble, box)
		test.That(t, box.Union(empty), test.ShouldResemble, box)
		test.That(t, empty.Extend(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldResemble, AABB{r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 1, Y: 2, Z: 3}})
		test.That(t, empty.Intersects(box), test.ShouldBeFalse)
	})

	t.Run("intersection includes touching faces", func(t *testing.T) {
		touching := NewAABB(r3.Vector{X: 8, Y: 0, Z: 0}, r3.Vector{X: 16, Y: 8, Z: 8})
		test.That(t, box.Intersects(touching), test.ShouldBeTrue)

		apart := NewAABB(r3.Vector{X: 9, Y: 0, Z: 0}, r3.Vector{X: 16, Y: 8, Z: 8})
		test.That(t, box.Intersects(apart), test.ShouldBeFalse)
		test.That(t, box.Expand(1).Intersects(apart), test.ShouldBeTrue)
	})

	t.Run("contains", func(t *testing.T) {
		test.That(t, box.Contains(r3.Vector{X: 8, Y: 0, Z: 4}), test.ShouldBeTrue)
		test.That(t, box.Contains(r3.Vector{X: 8.5, Y: 0, Z: 4}), test.ShouldBeFalse)
	})
}

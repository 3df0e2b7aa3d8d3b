package events

import (
	"testing"

	"github.com/google/uuid"
	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/voxel"
)

func TestBus(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := NewBus(logger)

	var order []string
	var changed []VoxelChanged
	unsubFirst := Subscribe(bus, func(e VoxelChanged) {
		order = append(order, "first")
		changed = append(changed, e)
	})
	Subscribe(bus, func(VoxelChanged) { order = append(order, "second") })
	var pressure []PressureLevel
	Subscribe(bus, func(e MemoryPressure) { pressure = append(pressure, e.Level) })
	var all []Kind
	unsubAll := bus.SubscribeAll(func(e Event) { all = append(all, e.Kind()) })

	id := uuid.New()
	bus.Publish(VoxelChanged{GridID: id, Position: voxel.NewPosition(1, 2, 3, voxel.Size4cm), Occupied: true})
	bus.Publish(MemoryPressure{Level: PressureHigh})
	bus.Publish(ResolutionChanged{Old: voxel.Size1cm, New: voxel.Size8cm})

	test.That(t, order, test.ShouldResemble, []string{"first", "second"})
	test.That(t, len(changed), test.ShouldEqual, 1)
	test.That(t, changed[0].GridID, test.ShouldEqual, id)
	test.That(t, pressure, test.ShouldResemble, []PressureLevel{PressureHigh})
	test.That(t, all, test.ShouldResemble, []Kind{KindVoxelChanged, KindMemoryPressure, KindResolutionChanged})

	t.Run("unsubscribe", func(t *testing.T) {
		unsubFirst()
		unsubFirst()
		unsubAll()
		order = nil
		bus.Publish(VoxelChanged{})
		test.That(t, order, test.ShouldResemble, []string{"second"})
		test.That(t, len(all), test.ShouldEqual, 3)
	})

	t.Run("handlers may publish and unsubscribe", func(t *testing.T) {
		var phases []Phase
		var unsub func()
		unsub = Subscribe(bus, func(e MeshGeneration) {
			phases = append(phases, e.Phase)
			if e.Phase == Started {
				bus.Publish(MeshGeneration{Phase: Completed})
				unsub()
			}
		})
		bus.Publish(MeshGeneration{Phase: Started})
		bus.Publish(MeshGeneration{Phase: Failed})
		test.That(t, phases, test.ShouldResemble, []Phase{Started, Completed})
	})

	t.Run("a panicking handler does not stop delivery", func(t *testing.T) {
		Subscribe(bus, func(WorkspaceResized) { panic("boom") })
		got := 0
		Subscribe(bus, func(WorkspaceResized) { got++ })
		bus.Publish(WorkspaceResized{})
		test.That(t, got, test.ShouldEqual, 1)
	})
}

func TestStrings(t *testing.T) {
	test.That(t, KindMeshGeneration.String(), test.ShouldEqual, "MeshGeneration")
	test.That(t, Cancelled.String(), test.ShouldEqual, "cancelled")
	test.That(t, Cancelled.Terminal(), test.ShouldBeTrue)
	test.That(t, Progress.Terminal(), test.ShouldBeFalse)
	test.That(t, PressureCritical.String(), test.ShouldEqual, "critical")
}

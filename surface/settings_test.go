package surface

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/spatialmath"
)

func TestSettings(t *testing.T) {
	for _, s := range []Settings{
		DefaultSettings(), PreviewSettings(), ExportSettings(),
		FastPreviewSettings(), BalancedPreviewSettings(), HighQualityPreviewSettings(),
	} {
		test.That(t, s.Validate(), test.ShouldBeNil)
		test.That(t, s.PreserveTopology, test.ShouldBeTrue)
	}

	t.Run("preview tiers", func(t *testing.T) {
		fast, balanced, high := FastPreviewSettings(), BalancedPreviewSettings(), HighQualityPreviewSettings()
		test.That(t, fast.PreviewQuality, test.ShouldEqual, mesh.PreviewFast)
		test.That(t, balanced.PreviewQuality, test.ShouldEqual, mesh.PreviewBalanced)
		test.That(t, high.PreviewQuality, test.ShouldEqual, mesh.PreviewHighQuality)
		test.That(t, fast.LOD, test.ShouldBeGreaterThan, balanced.LOD)
		test.That(t, balanced.LOD, test.ShouldBeGreaterThan, high.LOD)
		test.That(t, fast.SmoothingLevel, test.ShouldBeGreaterThan, 0)

		o := high.smoothing(2)
		test.That(t, o.Level, test.ShouldEqual, 4)
		test.That(t, o.Preview, test.ShouldEqual, mesh.PreviewHighQuality)
		test.That(t, o.MaxDisplacement, test.ShouldEqual, 1.)
		high.PreserveTopology = false
		test.That(t, high.smoothing(2).MaxDisplacement, test.ShouldEqual, 0.)
	})

	t.Run("invalid", func(t *testing.T) {
		bad := DefaultSettings()
		bad.LOD = NumLODLevels
		bad.SmoothingLevel = -1
		bad.ChunkSize = 1
		err := bad.Validate()
		test.That(t, errors.Is(err, ErrInvalidSettings), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "lod 5")
		test.That(t, err.Error(), test.ShouldContainSubstring, "smoothing level")
		test.That(t, err.Error(), test.ShouldContainSubstring, "chunk size")

		bad = DefaultSettings()
		bad.Simplification.Ratio = 2
		test.That(t, errors.Is(bad.Validate(), ErrInvalidSettings), test.ShouldBeTrue)

		bad = DefaultSettings()
		bad.SmoothingAlgorithm = mesh.SmoothingBiLaplacian + 1
		test.That(t, errors.Is(bad.Validate(), ErrInvalidSettings), test.ShouldBeTrue)

		bad = DefaultSettings()
		bad.UVScale = math.NaN()
		test.That(t, errors.Is(bad.Validate(), ErrInvalidSettings), test.ShouldBeTrue)
	})

	t.Run("hash ignores lod", func(t *testing.T) {
		a, b := DefaultSettings(), DefaultSettings()
		b.LOD = 3
		test.That(t, a.Hash(), test.ShouldEqual, b.Hash())
		b.SmoothNormals = false
		test.That(t, a.Hash(), test.ShouldNotEqual, b.Hash())
		c := DefaultSettings()
		c.SmoothingLevel = 5
		test.That(t, a.Hash(), test.ShouldNotEqual, c.Hash())
	})

	t.Run("zero ratio disables simplification", func(t *testing.T) {
		s := DefaultSettings()
		s.Simplification = mesh.SimplificationSettings{}
		test.That(t, s.Validate(), test.ShouldBeNil)
		test.That(t, s.simplificationRatio(), test.ShouldEqual, 1.)
	})
}

func TestSettingsFromAttributes(t *testing.T) {
	s, err := SettingsFromAttributes(map[string]any{
		"lod":                 "2",
		"smooth_normals":      false,
		"material":            3,
		"smoothing_level":     6,
		"smoothing_algorithm": 3,
		"simplification": map[string]any{
			"ratio":       0.5,
			"error_bound": 1,
		},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.LOD, test.ShouldEqual, 2)
	test.That(t, s.SmoothNormals, test.ShouldBeFalse)
	test.That(t, s.Material, test.ShouldEqual, mesh.MaterialID(3))
	test.That(t, s.Simplification, test.ShouldResemble, mesh.SimplificationSettings{Ratio: 0.5, ErrorBound: 1})
	test.That(t, s.SmoothingLevel, test.ShouldEqual, 6)
	test.That(t, s.SmoothingAlgorithm, test.ShouldEqual, mesh.SmoothingTaubin)
	// unset fields keep their defaults
	test.That(t, s.PreserveSharpFeatures, test.ShouldBeTrue)

	_, err = SettingsFromAttributes(map[string]any{"smoothness": 1})
	test.That(t, errors.Is(err, ErrInvalidSettings), test.ShouldBeTrue)

	_, err = SettingsFromAttributes(map[string]any{"lod": 9})
	test.That(t, errors.Is(err, ErrInvalidSettings), test.ShouldBeTrue)
}

func TestLODManager(t *testing.T) {
	m := DefaultLODManager()
	for _, tc := range []struct {
		distance float64
		level    LODLevel
	}{
		{0, LOD0},
		{9.99, LOD0},
		{10, LOD1},
		{30, LOD2},
		{50, LOD3},
		{1e6, LOD4},
		{-1, LOD0},
		{math.NaN(), LOD0},
	} {
		test.That(t, m.SelectLevel(tc.distance), test.ShouldEqual, tc.level)
	}

	big := spatialmath.NewAABB(r3.Vector{}, r3.Vector{X: 300, Y: 400})
	test.That(t, m.SelectLevelForBounds(1000, big), test.ShouldEqual, LOD0)
	test.That(t, m.SelectLevelForBounds(5000, big), test.ShouldEqual, LOD1)
	tiny := spatialmath.NewAABB(r3.Vector{}, r3.Vector{X: 0.1})
	test.That(t, m.SelectLevelForBounds(30, tiny), test.ShouldEqual, LOD2)

	test.That(t, m.Explicit(-3), test.ShouldEqual, LOD0)
	test.That(t, m.Explicit(2), test.ShouldEqual, LOD2)
	test.That(t, m.Explicit(42), test.ShouldEqual, LOD4)
	test.That(t, m.CellScale(LOD3), test.ShouldEqual, 8)
	test.That(t, m.SimplificationRatio(LOD1), test.ShouldEqual, 0.5)
	test.That(t, LOD2.String(), test.ShouldEqual, "LOD2")

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewLODManager(LODConfig{Distances: []float64{0, 1}, Ratios: []float64{1}})
		test.That(t, errors.Is(err, ErrInvalidSettings), test.ShouldBeTrue)

		cfg := DefaultLODConfig()
		cfg.Ratios[2] = 0.9
		_, err = NewLODManager(cfg)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "ratio 2")
	})
}

func TestSolveQEF(t *testing.T) {
	box := spatialmath.NewAABB(r3.Vector{X: -1, Y: -1, Z: -1}, r3.Vector{X: 1, Y: 1, Z: 1})

	t.Run("corner", func(t *testing.T) {
		samples := []HermiteData{
			{Point: r3.Vector{X: 0, Y: 0.5, Z: 0.5}, Normal: r3.Vector{X: 1}},
			{Point: r3.Vector{X: 0.5, Y: 0, Z: 0.5}, Normal: r3.Vector{Y: 1}},
			{Point: r3.Vector{X: 0.5, Y: 0.5, Z: 0}, Normal: r3.Vector{Z: 1}},
		}
		p, ok := solveQEF(samples, box)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, spatialmath.R3VectorAlmostEqual(p, r3.Vector{}, 1e-9), test.ShouldBeTrue)
	})

	t.Run("edge keeps the free axis at the mass point", func(t *testing.T) {
		samples := []HermiteData{
			{Point: r3.Vector{X: 0, Y: 0.5, Z: 0.25}, Normal: r3.Vector{X: 1}},
			{Point: r3.Vector{X: 0.5, Y: 0, Z: 0.75}, Normal: r3.Vector{Y: 1}},
		}
		p, ok := solveQEF(samples, box)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, spatialmath.R3VectorAlmostEqual(p, r3.Vector{Z: 0.5}, 1e-9), test.ShouldBeTrue)
	})

	t.Run("clamped to the box", func(t *testing.T) {
		samples := []HermiteData{
			{Point: r3.Vector{X: 5}, Normal: r3.Vector{X: 1}},
		}
		p, _ := solveQEF(samples, box)
		test.That(t, box.Contains(p), test.ShouldBeTrue)
	})

	t.Run("no samples", func(t *testing.T) {
		p, ok := solveQEF(nil, box)
		test.That(t, ok, test.ShouldBeFalse)
		test.That(t, p, test.ShouldResemble, box.Center())
	})
}

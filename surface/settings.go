package surface

import (
	"encoding/json"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mikerobots/cube-builder/mesh"
)

// Settings controls one surface extraction.
type Settings struct {
	// LOD is the level of detail; see LODManager.
	LOD int `json:"lod"`
	// SmoothNormals shares vertices and averages normals; otherwise normals are per face.
	SmoothNormals bool `json:"smooth_normals"`
	// SmoothingLevel rounds off the blocky surface, from 0 for none to 10 for organic shapes.
	SmoothingLevel int `json:"smoothing_level"`
	// SmoothingAlgorithm overrides the algorithm the level picks.
	SmoothingAlgorithm mesh.SmoothingAlgorithm `json:"smoothing_algorithm"`
	// PreserveTopology keeps smoothed vertices within half a lattice cell of where they started,
	// so holes and thin walls survive smoothing.
	PreserveTopology bool `json:"preserve_topology"`
	// PreviewQuality shortens smoothing for interactive previews.
	PreviewQuality mesh.PreviewQuality `json:"preview_quality"`
	GenerateUVs    bool                `json:"generate_uvs"`
	// UVScale is the world distance in centimeters per texture repeat. Zero means one voxel.
	UVScale float64 `json:"uv_scale"`
	// Material is assigned to every triangle. Composite extractions add the source resolution's
	// label, so each resolution gets its own material range.
	Material mesh.MaterialID `json:"material"`
	// PreserveSharpFeatures places vertices by solving each cell's QEF; when false vertices sit at
	// the mass point of their cell's crossings.
	PreserveSharpFeatures bool `json:"preserve_sharp_features"`
	// Simplification is applied on top of the LOD's own ratio. Its ErrorBound is measured in
	// lattice cells, so it scales with the LOD. A zero Ratio disables it.
	Simplification mesh.SimplificationSettings `json:"simplification"`
	// ChunkSize splits extraction into cubes of this many cells per side that are cached and
	// reused independently. Zero extracts the whole volume at once.
	ChunkSize int `json:"chunk_size"`
	// MaxVertices bounds the output mesh; zero means unlimited.
	MaxVertices int `json:"max_vertices"`
}

// DefaultSettings is the interactive editing profile.
func DefaultSettings() Settings {
	return Settings{
		SmoothNormals:         true,
		PreserveSharpFeatures: true,
		PreserveTopology:      true,
		Simplification:        mesh.SimplificationSettings{Ratio: 1, ErrorBound: 0.5},
	}
}

// PreviewSettings trades quality for speed.
func PreviewSettings() Settings {
	return Settings{
		LOD:              int(LOD1),
		SmoothNormals:    false,
		PreserveTopology: true,
		Simplification:   mesh.SimplificationSettings{Ratio: 0.5, ErrorBound: 1},
	}
}

// FastPreviewSettings is the quickest preview: a coarse level and a short Laplacian pass.
func FastPreviewSettings() Settings {
	s := PreviewSettings()
	s.LOD = int(LOD2)
	s.SmoothingLevel = 2
	s.PreviewQuality = mesh.PreviewFast
	return s
}

// BalancedPreviewSettings previews moderate smoothing with a third of its iterations.
func BalancedPreviewSettings() Settings {
	s := PreviewSettings()
	s.SmoothNormals = true
	s.SmoothingLevel = 4
	s.PreviewQuality = mesh.PreviewBalanced
	return s
}

// HighQualityPreviewSettings is close to the final surface at full detail.
func HighQualityPreviewSettings() Settings {
	return Settings{
		LOD:                   int(LOD0),
		SmoothNormals:         true,
		PreserveSharpFeatures: true,
		PreserveTopology:      true,
		SmoothingLevel:        4,
		PreviewQuality:        mesh.PreviewHighQuality,
		Simplification:        mesh.SimplificationSettings{Ratio: 0.75, ErrorBound: 0.5},
	}
}

// ExportSettings is the profile for writing files.
func ExportSettings() Settings {
	return Settings{
		SmoothNormals:         true,
		SmoothingLevel:        2,
		PreserveTopology:      true,
		GenerateUVs:           true,
		PreserveSharpFeatures: true,
		Simplification:        mesh.SimplificationSettings{Ratio: 0.95, ErrorBound: 0.1},
	}
}

// Validate checks the settings, wrapping every problem in ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs error
	if s.LOD < 0 || s.LOD >= NumLODLevels {
		errs = multierr.Append(errs, errors.Errorf("lod %d must be in [0, %d)", s.LOD, NumLODLevels))
	}
	if err := s.smoothing(1).Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if s.UVScale < 0 || math.IsNaN(s.UVScale) {
		errs = multierr.Append(errs, errors.Errorf("uv scale %v", s.UVScale))
	}
	if s.Simplification.Ratio != 0 {
		if err := s.Simplification.Validate(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if s.ChunkSize < 0 || (s.ChunkSize > 0 && s.ChunkSize < 2) {
		errs = multierr.Append(errs, errors.Errorf("chunk size %d must be 0 or at least 2", s.ChunkSize))
	}
	if s.MaxVertices < 0 {
		errs = multierr.Append(errs, errors.Errorf("max vertices %d", s.MaxVertices))
	}
	if errs != nil {
		return errors.Wrap(ErrInvalidSettings, errs.Error())
	}
	return nil
}

// Hash identifies everything but the LOD, which cache keys carry on their own.
func (s Settings) Hash() uint64 {
	s.LOD = 0
	data, err := json.Marshal(s)
	if err != nil {
		// plain data always marshals
		panic(err)
	}
	return xxhash.Sum64(data)
}

// smoothing returns the smoothing options for a lattice of the given cell size.
func (s Settings) smoothing(cellSize float64) mesh.SmoothingOptions {
	o := mesh.SmoothingOptions{
		Level:     s.SmoothingLevel,
		Algorithm: s.SmoothingAlgorithm,
		Preview:   s.PreviewQuality,
	}
	if s.PreserveTopology {
		o.MaxDisplacement = cellSize / 2
	}
	return o
}

// simplificationRatio is the ratio to apply after the LOD's own.
func (s Settings) simplificationRatio() float64 {
	if s.Simplification.Ratio == 0 {
		return 1
	}
	return s.Simplification.Ratio
}

// SettingsFromAttributes decodes settings from a loose attribute map, such as a JSON object
// decoded without a schema, starting from DefaultSettings.
func SettingsFromAttributes(attrs map[string]any) (Settings, error) {
	s := DefaultSettings()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &s,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Settings{}, err
	}
	if err := dec.Decode(attrs); err != nil {
		return Settings{}, errors.Wrap(ErrInvalidSettings, err.Error())
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

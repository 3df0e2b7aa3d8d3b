// Package voxel defines the resolution ladder, grid coordinates, and the VoxelGrid that binds an
// occupancy octree to a resolution and a bounded extent.
package voxel

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Resolution is one rung of the fixed ladder of voxel edge lengths, 1cm to 512cm. Each rung is
// twice the edge length of the previous one.
type Resolution uint8

// The supported resolutions, finest first.
const (
	Size1cm Resolution = iota
	Size2cm
	Size4cm
	Size8cm
	Size16cm
	Size32cm
	Size64cm
	Size128cm
	Size256cm
	Size512cm
)

// NumResolutions is the number of rungs on the ladder.
const NumResolutions = 10

// Centimeters returns the voxel edge length.
func (r Resolution) Centimeters() int {
	return 1 << r
}

// Size returns the voxel edge length in centimeters as a float.
func (r Resolution) Size() float64 {
	return float64(r.Centimeters())
}

// Valid reports whether r is on the ladder.
func (r Resolution) Valid() bool {
	return r < NumResolutions
}

// Factor returns how many voxels of the finer resolution f span one voxel of r along an axis.
func (r Resolution) Factor(f Resolution) int {
	if f > r {
		return 0
	}
	return 1 << (r - f)
}

func (r Resolution) String() string {
	if !r.Valid() {
		return "invalid(" + strconv.Itoa(int(r)) + ")"
	}
	return strconv.Itoa(r.Centimeters()) + "cm"
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, errors.Errorf("invalid resolution %d", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseResolution accepts an edge length such as "8cm" or "8".
func ParseResolution(s string) (Resolution, error) {
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "cm")
	cm, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid resolution %q", s)
	}
	for r := Size1cm; r < NumResolutions; r++ {
		if r.Centimeters() == cm {
			return r, nil
		}
	}
	return 0, errors.Errorf("unsupported resolution %q", s)
}

// AllResolutions returns the ladder, finest first.
func AllResolutions() []Resolution {
	all := make([]Resolution, NumResolutions)
	for i := range all {
		all[i] = Resolution(i)
	}
	return all
}

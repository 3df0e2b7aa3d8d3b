package voxel

import (
	"encoding/binary"
	"math/bits"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// Snapshot is an immutable dense copy of a grid's occupied bounding box. Extraction reads
// snapshots so it never holds the grid's lock. A snapshot may be downsampled (Scale > 1), in which
// case each lattice cell stands for Scale^3 voxels of Resolution.
type Snapshot struct {
	GridIDs     []uuid.UUID
	Resolution  Resolution
	Scale       int
	Version     uint64
	Dims        [3]int
	Min, Max    [3]int
	Count       int
	Fingerprint uint64

	size   [3]int
	bits   []uint64
	labels []uint8
}

// Snapshot returns the grid's current contents. The result is cached until the next edit.
func (g *Grid) Snapshot() *Snapshot {
	g.snapMu.Lock()
	defer g.snapMu.Unlock()

	g.mu.RLock()
	if g.snap != nil && g.snap.Version == g.version {
		g.mu.RUnlock()
		return g.snap
	}
	var s *Snapshot
	if lo, hi, ok := g.tree.OccupiedBounds(); ok {
		s = newSnapshot(g.resolution, 1, g.dims, lo, hi)
		g.tree.VisitLeaves(func(origin [3]int, side int) bool {
			s.setCube(origin, side)
			return true
		})
		s.Count = g.tree.Count()
	} else {
		s = newSnapshot(g.resolution, 1, g.dims, [3]int{}, [3]int{-1, -1, -1})
	}
	s.Version = g.version
	g.mu.RUnlock()

	s.GridIDs = []uuid.UUID{g.id}
	s.finish()
	g.snap = s
	return s
}

// Fingerprint returns a content hash of the grid's occupancy at its resolution.
func (g *Grid) Fingerprint() uint64 {
	return g.Snapshot().Fingerprint
}

func newSnapshot(res Resolution, scale int, dims, lo, hi [3]int) *Snapshot {
	s := &Snapshot{Resolution: res, Scale: scale, Dims: dims, Min: lo, Max: hi}
	n := 1
	for axis := 0; axis < 3; axis++ {
		s.size[axis] = max(0, hi[axis]-lo[axis]+1)
		n *= s.size[axis]
	}
	s.bits = make([]uint64, (n+63)/64)
	return s
}

// Empty reports whether nothing is occupied.
func (s *Snapshot) Empty() bool {
	return s.Count == 0
}

// CellSize returns the lattice spacing in centimeters.
func (s *Snapshot) CellSize() float64 {
	return s.Resolution.Size() * float64(s.Scale)
}

// HasLabels reports whether voxels carry per-voxel labels (see Composite).
func (s *Snapshot) HasLabels() bool {
	return s.labels != nil
}

// SizeBytes is the memory held by the snapshot's buffers.
func (s *Snapshot) SizeBytes() int64 {
	return int64(len(s.bits)*8 + len(s.labels))
}

// Occupied reports whether the lattice cell is occupied. Anything outside the occupied bounding
// box is empty.
func (s *Snapshot) Occupied(x, y, z int) bool {
	i, ok := s.index(x, y, z)
	return ok && s.bits[i>>6]&(1<<(uint(i)&63)) != 0
}

// Label returns the voxel's label, or zero when unlabeled or empty.
func (s *Snapshot) Label(x, y, z int) uint8 {
	if s.labels == nil {
		return 0
	}
	i, ok := s.index(x, y, z)
	if !ok {
		return 0
	}
	return s.labels[i]
}

// WorldBounds returns the world-space box around the occupied cells.
func (s *Snapshot) WorldBounds() spatialmath.AABB {
	if s.Empty() {
		return spatialmath.EmptyAABB()
	}
	return s.CellBounds(s.Min, s.Max)
}

// CellBounds returns the world-space box covering the inclusive cell range [lo, hi].
func (s *Snapshot) CellBounds(lo, hi [3]int) spatialmath.AABB {
	cs := s.CellSize()
	return spatialmath.AABB{
		Min: r3.Vector{X: float64(lo[0]) * cs, Y: float64(lo[1]) * cs, Z: float64(lo[2]) * cs},
		Max: r3.Vector{X: float64(hi[0]+1) * cs, Y: float64(hi[1]+1) * cs, Z: float64(hi[2]+1) * cs},
	}
}

// ForEach calls fn for every occupied cell in index order.
func (s *Snapshot) ForEach(fn func(x, y, z int)) {
	for w, word := range s.bits {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			word &= word - 1
			x, y, z := s.coords(w<<6 + b)
			fn(x, y, z)
		}
	}
}

// ExposedFaces counts the cell faces between an occupied and an empty cell. It is the number of
// quads a surface extraction of the snapshot emits.
func (s *Snapshot) ExposedFaces() int {
	n := 0
	s.ForEach(func(x, y, z int) {
		for _, d := range [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}} {
			if !s.Occupied(x+d[0], y+d[1], z+d[2]) {
				n++
			}
		}
	})
	return n
}

// Downsample returns a coarser snapshot where a cell is occupied if any of the factor^3 cells it
// covers is occupied. Labels keep the smallest non-zero label of the covered cells.
func (s *Snapshot) Downsample(factor int) *Snapshot {
	if factor <= 1 {
		return s
	}
	dims := [3]int{}
	for axis := range dims {
		dims[axis] = (s.Dims[axis] + factor - 1) / factor
	}
	if s.Empty() {
		out := newSnapshot(s.Resolution, s.Scale*factor, dims, [3]int{}, [3]int{-1, -1, -1})
		out.GridIDs, out.Version = s.GridIDs, s.Version
		out.finish()
		return out
	}

	var lo, hi [3]int
	for axis := range lo {
		lo[axis] = s.Min[axis] / factor
		hi[axis] = s.Max[axis] / factor
	}
	out := newSnapshot(s.Resolution, s.Scale*factor, dims, lo, hi)
	out.GridIDs, out.Version = s.GridIDs, s.Version
	if s.labels != nil {
		out.labels = make([]uint8, out.volume())
	}
	s.ForEach(func(x, y, z int) {
		cx, cy, cz := x/factor, y/factor, z/factor
		i, _ := out.index(cx, cy, cz)
		out.bits[i>>6] |= 1 << (uint(i) & 63)
		if out.labels != nil {
			if l := s.Label(x, y, z); l != 0 && (out.labels[i] == 0 || l < out.labels[i]) {
				out.labels[i] = l
			}
		}
	})
	out.Count = out.popcount()
	out.finish()
	return out
}

// Composite merges full-scale snapshots of different resolutions into one lattice at the finest
// resolution that has content. Each voxel is labeled with its source resolution plus one; where
// sources overlap, the finer source wins. Extracting the composite yields one connected surface
// with no cracks between resolutions.
func Composite(snaps ...*Snapshot) (*Snapshot, error) {
	if len(snaps) == 0 {
		return nil, errors.New("nothing to composite")
	}
	var ids []uuid.UUID
	var nonEmpty []*Snapshot
	finest := Resolution(NumResolutions)
	for _, s := range snaps {
		if s.Scale != 1 {
			return nil, errors.Wrapf(ErrResolutionMismatch, "cannot composite a snapshot downsampled by %d", s.Scale)
		}
		ids = append(ids, s.GridIDs...)
		if !s.Empty() {
			nonEmpty = append(nonEmpty, s)
			finest = min(finest, s.Resolution)
		}
	}
	if len(nonEmpty) == 0 {
		finest = slices.MinFunc(snaps, func(a, b *Snapshot) int { return int(a.Resolution) - int(b.Resolution) }).Resolution
		out := newSnapshot(finest, 1, snaps[0].Dims, [3]int{}, [3]int{-1, -1, -1})
		out.GridIDs = ids
		out.finish()
		return out, nil
	}

	var dims, lo, hi [3]int
	for i, s := range nonEmpty {
		f := s.Resolution.Factor(finest)
		for axis := 0; axis < 3; axis++ {
			sLo, sHi := s.Min[axis]*f, s.Max[axis]*f+f-1
			if i == 0 {
				lo[axis], hi[axis] = sLo, sHi
			}
			lo[axis] = min(lo[axis], sLo)
			hi[axis] = max(hi[axis], sHi)
			dims[axis] = max(dims[axis], s.Dims[axis]*f)
		}
	}
	out := newSnapshot(finest, 1, dims, lo, hi)
	out.GridIDs = ids
	out.labels = make([]uint8, out.volume())

	// coarse first so finer sources overwrite their labels
	slices.SortStableFunc(nonEmpty, func(a, b *Snapshot) int { return int(b.Resolution) - int(a.Resolution) })
	for _, s := range nonEmpty {
		f := s.Resolution.Factor(finest)
		label := uint8(s.Resolution) + 1
		s.ForEach(func(x, y, z int) {
			for dz := 0; dz < f; dz++ {
				for dy := 0; dy < f; dy++ {
					for dx := 0; dx < f; dx++ {
						i, _ := out.index(x*f+dx, y*f+dy, z*f+dz)
						out.bits[i>>6] |= 1 << (uint(i) & 63)
						out.labels[i] = label
					}
				}
			}
		})
	}
	out.Count = out.popcount()
	out.finish()
	return out, nil
}

// RegionFingerprint hashes the occupancy (and labels) of the inclusive cell range [lo, hi].
func (s *Snapshot) RegionFingerprint(lo, hi [3]int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeInts(d, s.headerInts(lo, hi)...)

	var word uint64
	n := 0
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				if s.Occupied(x, y, z) {
					word |= 1 << uint(n)
				}
				if n++; n == 64 {
					binary.LittleEndian.PutUint64(buf[:], word)
					_, _ = d.Write(buf[:])
					word, n = 0, 0
				}
				if s.labels != nil {
					_, _ = d.Write([]byte{s.Label(x, y, z)})
				}
			}
		}
	}
	binary.LittleEndian.PutUint64(buf[:], word)
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

func (s *Snapshot) headerInts(lo, hi [3]int) []int {
	return []int{int(s.Resolution), s.Scale, lo[0], lo[1], lo[2], hi[0], hi[1], hi[2]}
}

// finish computes the fingerprint over the header, the bit words and the labels.
func (s *Snapshot) finish() {
	d := xxhash.New()
	writeInts(d, s.headerInts(s.Min, s.Max)...)
	buf := make([]byte, 0, 4096)
	for _, word := range s.bits {
		buf = binary.LittleEndian.AppendUint64(buf, word)
		if len(buf) == cap(buf) {
			_, _ = d.Write(buf)
			buf = buf[:0]
		}
	}
	_, _ = d.Write(buf)
	if s.labels != nil {
		_, _ = d.Write(s.labels)
	}
	s.Fingerprint = d.Sum64()
}

func writeInts(d *xxhash.Digest, vals ...int) {
	var buf [8]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = d.Write(buf[:])
	}
}

func (s *Snapshot) index(x, y, z int) (int, bool) {
	x -= s.Min[0]
	y -= s.Min[1]
	z -= s.Min[2]
	if x < 0 || y < 0 || z < 0 || x >= s.size[0] || y >= s.size[1] || z >= s.size[2] {
		return 0, false
	}
	return (z*s.size[1]+y)*s.size[0] + x, true
}

func (s *Snapshot) coords(i int) (int, int, int) {
	x := i % s.size[0]
	i /= s.size[0]
	y := i % s.size[1]
	z := i / s.size[1]
	return x + s.Min[0], y + s.Min[1], z + s.Min[2]
}

// setCube marks an octree leaf; rows along x are written a word at a time.
func (s *Snapshot) setCube(origin [3]int, side int) {
	for z := origin[2]; z < origin[2]+side; z++ {
		for y := origin[1]; y < origin[1]+side; y++ {
			i, ok := s.index(origin[0], y, z)
			if !ok {
				continue
			}
			s.setRun(i, side)
		}
	}
}

func (s *Snapshot) setRun(i, n int) {
	for n > 0 {
		w, off := i>>6, i&63
		k := min(64-off, n)
		mask := ^uint64(0)
		if k < 64 {
			mask = (uint64(1)<<uint(k) - 1) << uint(off)
		}
		s.bits[w] |= mask
		i += k
		n -= k
	}
}

func (s *Snapshot) volume() int {
	return s.size[0] * s.size[1] * s.size[2]
}

func (s *Snapshot) popcount() int {
	total := 0
	for _, word := range s.bits {
		total += bits.OnesCount64(word)
	}
	return total
}

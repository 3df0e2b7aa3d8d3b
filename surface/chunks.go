package surface

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/meshcache"
	"github.com/mikerobots/cube-builder/voxel"
)

// chunk is a cube of lattice cells extracted, simplified and cached on its own.
type chunk struct {
	lo, hi [3]int
}

// chunksOf tiles the cell range with chunks aligned to multiples of size, so a chunk keeps its
// extent when the occupied bounds grow or shrink.
func chunksOf(lo, hi [3]int, size int) []chunk {
	var first, last [3]int
	for axis := 0; axis < 3; axis++ {
		first[axis] = floorDiv(lo[axis], size)
		last[axis] = floorDiv(hi[axis], size)
	}
	var out []chunk
	for z := first[2]; z <= last[2]; z++ {
		for y := first[1]; y <= last[1]; y++ {
			for x := first[0]; x <= last[0]; x++ {
				c := chunk{lo: [3]int{x * size, y * size, z * size}}
				for axis := 0; axis < 3; axis++ {
					c.hi[axis] = c.lo[axis] + size - 1
				}
				out = append(out, c)
			}
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// dependencies returns the sample range the chunk's triangles are computed from: its own cells,
// the ring of neighbor cells whose vertices it borrows, and their corners.
func (c chunk) dependencies() ([3]int, [3]int) {
	lo, hi := c.lo, c.hi
	for axis := 0; axis < 3; axis++ {
		lo[axis]--
		hi[axis]++
	}
	return lo, hi
}

func (c chunk) tag() uint64 {
	var buf [8 * 3]byte
	for axis := 0; axis < 3; axis++ {
		binary.LittleEndian.PutUint64(buf[axis*8:], uint64(int64(c.lo[axis])))
	}
	return xxhash.Sum64(buf[:])
}

// extractChunked extracts each chunk independently, reusing cached chunks whose samples are
// unchanged. Simplification keeps open borders in place, so chunks still meet exactly and
// welding them in chunk order yields the same connected surface on every run.
func (dc *DualContouring) extractChunked(
	ctx context.Context,
	lattice *voxel.Snapshot,
	level LODLevel,
	settings Settings,
	simplify mesh.SimplificationSettings,
	st *stats,
	progress ProgressFunc,
) (*mesh.Mesh, error) {
	x := newExtractor(lattice, settings, st)
	lo, hi := cellRange(lattice)
	chunks := chunksOf(lo, hi, settings.ChunkSize)
	meshes := make([]*mesh.Mesh, len(chunks))
	report := newReporter(len(chunks), progress)
	settingsHash := settings.Hash()

	build := func(c chunk) (*mesh.Mesh, error) {
		m, err := buildParts(x.emit(c.lo, c.hi))
		if err != nil {
			return nil, err
		}
		if simplify.Ratio < 1 {
			return mesh.Simplify(m, simplify)
		}
		return m, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dc.workers)
	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var m *mesh.Mesh
			var err error
			if dc.chunks == nil {
				m, err = build(c)
			} else {
				depLo, depHi := c.dependencies()
				key := meshcache.NewKey(lattice.RegionFingerprint(depLo, depHi), lattice.Resolution, int(level), settingsHash).With(c.tag())
				meta := meshcache.Meta{
					GridIDs: lattice.GridIDs,
					Bounds:  lattice.CellBounds(depLo, depHi),
					Margin:  lattice.CellSize(),
				}
				m, _, err = dc.chunks.GetOrGenerate(gctx, key, meta, func(context.Context) (*mesh.Mesh, error) {
					return build(c)
				})
			}
			if err != nil {
				return err
			}
			meshes[i] = m
			report.done()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := mesh.Merge(mesh.BuildOptions{SmoothNormals: true}, meshes...)
	return m, errors.Wrap(err, "joining chunks")
}

// Package surface turns voxel occupancy into triangle meshes by dual contouring, and schedules,
// caches and reports those extractions.
package surface

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/mesh"
	"github.com/mikerobots/cube-builder/meshcache"
	"github.com/mikerobots/cube-builder/voxel"
)

// defaultSlabDepth is the number of cell layers along z extracted by one parallel worker step.
const defaultSlabDepth = 8

// ProgressFunc receives the fraction of an extraction completed so far. Calls are serialized and
// fractions never decrease.
type ProgressFunc func(fraction float64)

// Stats counts the work done by extractions.
type Stats struct {
	// Cells is the number of lattice cells examined.
	Cells int64
	// ActiveCells is the number of cells that produced a vertex.
	ActiveCells int64
	Quads       int64
	// Degraded is the number of cells whose QEF could not be solved.
	Degraded int64
}

type stats struct {
	cells, active, quads, degraded atomic.Int64
}

func (s *stats) add(o *stats) {
	s.cells.Add(o.cells.Load())
	s.active.Add(o.active.Load())
	s.quads.Add(o.quads.Load())
	s.degraded.Add(o.degraded.Load())
}

func (s *stats) snapshot() Stats {
	return Stats{
		Cells:       s.cells.Load(),
		ActiveCells: s.active.Load(),
		Quads:       s.quads.Load(),
		Degraded:    s.degraded.Load(),
	}
}

// Option configures a DualContouring.
type Option func(*DualContouring)

// WithWorkers bounds the number of slabs or chunks extracted at once.
func WithWorkers(n int) Option {
	return func(dc *DualContouring) {
		if n > 0 {
			dc.workers = n
		}
	}
}

// WithSlabDepth sets how many cell layers one worker step extracts.
func WithSlabDepth(n int) Option {
	return func(dc *DualContouring) {
		if n > 0 {
			dc.slabDepth = n
		}
	}
}

// WithLODManager replaces the default level of detail table.
func WithLODManager(m *LODManager) Option {
	return func(dc *DualContouring) {
		dc.lod = m
	}
}

// WithChunkCache stores chunk meshes of chunked extractions so unchanged chunks are reused.
func WithChunkCache(c *meshcache.Cache) Option {
	return func(dc *DualContouring) {
		dc.chunks = c
	}
}

// DualContouring extracts surfaces from voxel snapshots. It is safe for concurrent use.
type DualContouring struct {
	logger    logging.Logger
	workers   int
	slabDepth int
	lod       *LODManager
	chunks    *meshcache.Cache

	totals stats
}

// NewDualContouring returns an extractor.
func NewDualContouring(logger logging.Logger, opts ...Option) *DualContouring {
	dc := &DualContouring{
		logger:    logger.Sublogger("dc"),
		workers:   runtime.GOMAXPROCS(0),
		slabDepth: defaultSlabDepth,
	}
	for _, opt := range opts {
		opt(dc)
	}
	if dc.lod == nil {
		dc.lod = DefaultLODManager()
	}
	return dc
}

// Stats returns the totals over every extraction so far.
func (dc *DualContouring) Stats() Stats {
	return dc.totals.snapshot()
}

// LODManager returns the level of detail table in use.
func (dc *DualContouring) LODManager() *LODManager {
	return dc.lod
}

// GenerateMesh extracts the grid's surface. An empty grid yields an empty mesh.
func (dc *DualContouring) GenerateMesh(ctx context.Context, grid *voxel.Grid, settings Settings) (*mesh.Mesh, error) {
	return dc.Generate(ctx, grid.Snapshot(), settings, nil)
}

// GenerateComposite extracts one surface over grids of different resolutions. The grids are
// merged at the finest resolution that has content, so the surface has no cracks where the
// resolutions meet; each resolution's triangles get their own material.
func (dc *DualContouring) GenerateComposite(ctx context.Context, settings Settings, grids ...*voxel.Grid) (*mesh.Mesh, error) {
	snaps := make([]*voxel.Snapshot, 0, len(grids))
	for _, g := range grids {
		snaps = append(snaps, g.Snapshot())
	}
	snap, err := voxel.Composite(snaps...)
	if err != nil {
		return nil, err
	}
	return dc.Generate(ctx, snap, settings, nil)
}

// Generate runs the whole pipeline on a snapshot: coarsening for the LOD, extraction,
// simplification, smoothing and the final build. Cancellation is checked between slabs and
// chunks and reported as ctx's error.
func (dc *DualContouring) Generate(ctx context.Context, snap *voxel.Snapshot, settings Settings, progress ProgressFunc) (*mesh.Mesh, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if snap.Empty() {
		return mesh.Empty(), nil
	}
	start := time.Now()
	level := dc.lod.Explicit(settings.LOD)
	lattice := snap.Downsample(dc.lod.CellScale(level))
	simplify := mesh.SimplificationSettings{
		Ratio:      dc.levelRatio(snap, lattice, level, dc.lod.SimplificationRatio(level)*settings.simplificationRatio()),
		ErrorBound: settings.Simplification.ErrorBound * lattice.CellSize(),
	}

	var local stats
	var m *mesh.Mesh
	var err error
	if settings.ChunkSize > 0 {
		m, err = dc.extractChunked(ctx, lattice, level, settings, simplify, &local, progress)
	} else {
		m, err = dc.extractSlabs(ctx, lattice, settings, &local, progress)
		if err == nil && simplify.Ratio < 1 {
			m, err = mesh.Simplify(m, simplify)
		}
	}
	dc.totals.add(&local)
	degradedCells.Add(float64(local.degraded.Load()))
	if err != nil {
		return nil, err
	}

	if m, err = mesh.Smooth(ctx, m, settings.smoothing(lattice.CellSize())); err != nil {
		return nil, err
	}
	if !settings.SmoothNormals || settings.GenerateUVs || settings.MaxVertices > 0 {
		uvScale := settings.UVScale
		if uvScale == 0 {
			uvScale = snap.Resolution.Size()
		}
		m, err = m.Rebuild(mesh.BuildOptions{
			SmoothNormals: settings.SmoothNormals,
			GenerateUVs:   settings.GenerateUVs,
			UVScale:       uvScale,
			MaxVertices:   settings.MaxVertices,
		})
		if err != nil {
			return nil, err
		}
	}

	instrumentGeneration(level, start)
	dc.logger.CDebugw(ctx, "extracted surface",
		"resolution", snap.Resolution, "lod", level, "voxels", snap.Count,
		"triangles", m.TriangleCount(), "vertices", m.VertexCount(),
		"degraded", local.degraded.Load(), "took", time.Since(start))
	return m, nil
}

// levelRatio raises ratio so a level never simplifies below the unsimplified surface of the next
// coarser level. Coarsening never adds faces and simplification never adds triangles, so triangle
// counts do not increase from one level to the next.
func (dc *DualContouring) levelRatio(snap, lattice *voxel.Snapshot, level LODLevel, ratio float64) float64 {
	if ratio >= 1 || int(level) >= NumLODLevels-1 {
		return ratio
	}
	faces := lattice.ExposedFaces()
	if faces == 0 {
		return ratio
	}
	next := snap.Downsample(dc.lod.CellScale(level + 1)).ExposedFaces()
	return math.Min(1, math.Max(ratio, float64(next)/float64(faces)))
}

// cellRange returns the inclusive range of cells that can own a sign-changing edge.
func cellRange(s *voxel.Snapshot) ([3]int, [3]int) {
	var lo, hi [3]int
	for axis := 0; axis < 3; axis++ {
		lo[axis] = s.Min[axis] - 1
		hi[axis] = s.Max[axis]
	}
	return lo, hi
}

// extractSlabs extracts the whole lattice, splitting it into z slabs that run in parallel. The
// slab parts are concatenated in order and welded, so the result does not depend on scheduling.
func (dc *DualContouring) extractSlabs(
	ctx context.Context, lattice *voxel.Snapshot, settings Settings, st *stats, progress ProgressFunc,
) (*mesh.Mesh, error) {
	x := newExtractor(lattice, settings, st)
	lo, hi := cellRange(lattice)
	numSlabs := (hi[2] - lo[2] + dc.slabDepth) / dc.slabDepth
	parts := make([]*part, numSlabs)
	report := newReporter(numSlabs, progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dc.workers)
	for i := 0; i < numSlabs; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slabLo, slabHi := lo, hi
			slabLo[2] = lo[2] + i*dc.slabDepth
			slabHi[2] = min(hi[2], slabLo[2]+dc.slabDepth-1)
			parts[i] = x.emit(slabLo, slabHi)
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
	return buildParts(parts...)
}

func buildParts(parts ...*part) (*mesh.Mesh, error) {
	b := mesh.NewBuilder(mesh.BuildOptions{SmoothNormals: true})
	for _, p := range parts {
		base := uint32(b.VertexCount())
		for _, v := range p.positions {
			b.AddVertex(v)
		}
		for _, q := range p.quads {
			for i := range q.Vertices {
				q.Vertices[i] += base
			}
			b.AddQuad(q)
		}
	}
	m, err := b.Build()
	return m, errors.Wrap(err, "building extracted surface")
}

// reporter turns completed steps into monotonically increasing progress fractions.
type reporter struct {
	mu       sync.Mutex
	total    int
	finished int
	fn       ProgressFunc
}

func newReporter(total int, fn ProgressFunc) *reporter {
	return &reporter{total: total, fn: fn}
}

func (r *reporter) done() {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	r.fn(float64(r.finished) / float64(r.total))
}

// extractor holds what one extraction pass needs to emit quads for any region of a lattice.
type extractor struct {
	snap     *voxel.Snapshot
	cellSize float64
	sharp    bool
	material mesh.MaterialID
	stats    *stats
}

func newExtractor(s *voxel.Snapshot, settings Settings, st *stats) *extractor {
	return &extractor{
		snap:     s,
		cellSize: s.CellSize(),
		sharp:    settings.PreserveSharpFeatures,
		material: settings.Material,
		stats:    st,
	}
}

// part is the output of one region: cell vertices and the quads joining them.
type part struct {
	positions []r3.Vector
	quads     []mesh.QuadFace
	cells     map[[3]int]*cellVertices
}

// cellVertices holds one cell's sheets and, per sheet, one more than its vertex index once placed.
type cellVertices struct {
	mask  uint8
	topo  cellTopology
	index []uint32
}

func (x *extractor) occupied(p [3]int) bool {
	return x.snap.Occupied(p[0], p[1], p[2])
}

// center returns the world position of a lattice sample.
func (x *extractor) center(p [3]int) r3.Vector {
	return r3.Vector{
		X: (float64(p[0]) + 0.5) * x.cellSize,
		Y: (float64(p[1]) + 0.5) * x.cellSize,
		Z: (float64(p[2]) + 0.5) * x.cellSize,
	}
}

// mask returns the occupancy of the cell's eight corners, bit i for corner i.
func (x *extractor) mask(c [3]int) uint8 {
	var m uint8
	for i, off := range cornerOffsets {
		if x.occupied([3]int{c[0] + off[0], c[1] + off[1], c[2] + off[2]}) {
			m |= 1 << uint(i)
		}
	}
	return m
}

// edges describes the cell's twelve edges.
func (x *extractor) edges(c [3]int, mask uint8) [12]EdgeData {
	var out [12]EdgeData
	for i, e := range cellEdges {
		in0, in1 := mask&(1<<e[0]) != 0, mask&(1<<e[1]) != 0
		out[i] = EdgeData{Corners: e, SignChange: in0 != in1}
		if in0 == in1 {
			continue
		}
		o0, o1 := cornerOffsets[e[0]], cornerOffsets[e[1]]
		a := x.center([3]int{c[0] + o0[0], c[1] + o0[1], c[2] + o0[2]})
		b := x.center([3]int{c[0] + o1[0], c[1] + o1[1], c[2] + o1[2]})
		h := crossing(a, b, edgeAxis(i), in0)
		out[i].Hermite = &h
	}
	return out
}

// vertex places the vertex of one sheet of a cell from the crossings on that sheet's edges. The
// result lies inside the cell. A cell crossed by a single sheet solves its QEF when sharp features
// are kept. Cells crossed by several sheets place each at the mass point of its crossings, so the
// sheets keep distinct vertices.
func (x *extractor) vertex(c [3]int, mask uint8, topo cellTopology, sheet int8) r3.Vector {
	edges := x.edges(c, mask)
	samples := make([]HermiteData, 0, 12)
	for i, e := range edges {
		if e.Hermite != nil && topo.sheet[i] == sheet {
			samples = append(samples, *e.Hermite)
		}
	}

	if !x.sharp || topo.count > 1 {
		var mass r3.Vector
		for _, s := range samples {
			mass = mass.Add(s.Point)
		}
		return mass.Mul(1 / float64(len(samples)))
	}
	box := x.snap.CellBounds(c, c)
	box.Min = box.Min.Add(r3.Vector{X: x.cellSize / 2, Y: x.cellSize / 2, Z: x.cellSize / 2})
	box.Max = box.Max.Add(r3.Vector{X: x.cellSize / 2, Y: x.cellSize / 2, Z: x.cellSize / 2})
	p, ok := solveQEF(samples, box)
	if !ok {
		x.stats.degraded.Inc()
	}
	return p
}

// topology splits the cell's crossings into sheets, looking at the neighbor across each
// ambiguous face to agree on how that face pairs its crossings.
func (x *extractor) topology(c [3]int, mask uint8) cellTopology {
	var flips uint8
	for f := range cellFaces {
		if !sheetsMeet[mask][f] {
			continue
		}
		n := c
		if f%2 == 1 {
			n[f/2]++
		} else {
			n[f/2]--
		}
		if sheetsMeet[x.mask(n)][f^1] {
			flips |= 1 << uint(f)
		}
	}
	if flips == 0 {
		return baseTopology[mask]
	}
	return newCellTopology(mask, flips)
}

// vertexIndex returns the vertex of the sheet crossing the given edge of cell c.
func (p *part) vertexIndex(x *extractor, c [3]int, edge int) uint32 {
	cv, ok := p.cells[c]
	if !ok {
		mask := x.mask(c)
		cv = &cellVertices{mask: mask, topo: x.topology(c, mask)}
		cv.index = make([]uint32, cv.topo.count)
		p.cells[c] = cv
		x.stats.active.Inc()
	}
	s := cv.topo.sheet[edge]
	if cv.index[s] == 0 {
		p.positions = append(p.positions, x.vertex(c, cv.mask, cv.topo, s))
		cv.index[s] = uint32(len(p.positions))
	}
	return cv.index[s] - 1
}

// quadCells are the offsets, along the two axes following the edge's axis, of the four cells
// around an edge, counter-clockwise when looking down the edge's axis.
var quadCells = [4][2]int{{-1, -1}, {0, -1}, {0, 0}, {-1, 0}}

// emit produces the quads of every sign-changing edge owned by the cells in [lo, hi]. A cell
// owns the three edges leaving its lowest corner. Vertices of neighboring cells outside the
// region are computed as needed, exactly as the region owning them computes them.
func (x *extractor) emit(lo, hi [3]int) *part {
	p := &part{cells: map[[3]int]*cellVertices{}}
	var cells, quads int64
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for xx := lo[0]; xx <= hi[0]; xx++ {
				cells++
				c := [3]int{xx, y, z}
				m := x.mask(c)
				if m == 0 || m == 0xff {
					continue
				}
				in := m&1 != 0
				for axis := 0; axis < 3; axis++ {
					if (m&(1<<(1<<uint(axis))) != 0) == in {
						continue
					}
					b, d := (axis+1)%3, (axis+2)%3
					var q mesh.QuadFace
					for i := range quadCells {
						off := quadCells[i]
						if !in {
							// facing -axis
							off = quadCells[3-i]
						}
						cell := c
						cell[b] += off[0]
						cell[d] += off[1]
						// the edge starts at the corner of cell on the far side of the offset
						start := uint8(-off[0])<<uint(b) | uint8(-off[1])<<uint(d)
						q.Vertices[i] = p.vertexIndex(x, cell, edgeIndex[start][start|1<<uint(axis)])
					}
					solid := c
					if !in {
						solid[axis]++
					}
					q.Material = x.material + mesh.MaterialID(x.snap.Label(solid[0], solid[1], solid[2]))
					p.quads = append(p.quads, q)
					quads++
				}
			}
		}
	}
	x.stats.cells.Add(cells)
	x.stats.quads.Add(quads)
	return p
}

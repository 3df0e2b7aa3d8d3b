package mesh

import (
	"container/heap"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mikerobots/cube-builder/spatialmath"
)

// minSimplifiedTriangles is the smallest triangle count simplification aims for.
const minSimplifiedTriangles = 4

// minCollapseCosine rejects a collapse when any surviving triangle's normal would turn by more
// than roughly 78 degrees.
const minCollapseCosine = 0.2

// SimplificationSettings controls Simplify. ErrorBound is in centimeters.
type SimplificationSettings struct {
	Ratio      float64 `json:"ratio"`
	ErrorBound float64 `json:"error_bound"`
}

// Aggressive trades accuracy for a small mesh.
func Aggressive() SimplificationSettings {
	return SimplificationSettings{Ratio: 0.25, ErrorBound: 5}
}

// Conservative removes a quarter of the triangles with a tight bound.
func Conservative() SimplificationSettings {
	return SimplificationSettings{Ratio: 0.75, ErrorBound: 0.5}
}

// Balanced halves the triangle count.
func Balanced() SimplificationSettings {
	return SimplificationSettings{Ratio: 0.5, ErrorBound: 1}
}

// Quality keeps most of the mesh with a very tight bound.
func Quality() SimplificationSettings {
	return SimplificationSettings{Ratio: 0.8, ErrorBound: 0.1}
}

// Validate checks the settings.
func (s SimplificationSettings) Validate() error {
	if !(s.Ratio > 0 && s.Ratio <= 1) {
		return errors.Wrapf(ErrInvalidSettings, "simplification ratio %v must be in (0, 1]", s.Ratio)
	}
	if !(s.ErrorBound >= 0) || math.IsInf(s.ErrorBound, 1) {
		return errors.Wrapf(ErrInvalidSettings, "simplification error bound %v", s.ErrorBound)
	}
	return nil
}

// Simplify reduces m towards Ratio times its triangle count, rounded up, by quadric error edge
// collapses. The result never has fewer triangles than that target. A collapse is only taken when
// the moved vertex stays within ErrorBound of the original triangles it replaces, every original
// vertex it absorbs stays within ErrorBound of the new triangles, the surface keeps its topology,
// and no triangle flips; vertices on open edges never move. Simplification stops early when no
// collapse satisfies those rules, so the result can have more triangles than asked for but never
// more than m. When the target is below four triangles or Ratio is 1, m itself is returned.
// Otherwise the result has smooth normals and no UVs; use Rebuild to apply other options.
func Simplify(m *Mesh, s SimplificationSettings) (*Mesh, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	target := int(math.Ceil(s.Ratio * float64(m.TriangleCount())))
	if s.Ratio >= 1 || target < minSimplifiedTriangles {
		return m, nil
	}

	sim := newSimplifier(newTopology(m), s.ErrorBound)
	sim.run(target)
	return sim.topo.build(func(t int) bool { return sim.alive[t] })
}

// quadric is a symmetric 4x4 error matrix stored as its upper triangle:
// aa ab ac ad bb bc bd cc cd dd.
type quadric [10]float64

func planeQuadric(n r3.Vector, d, weight float64) quadric {
	return quadric{
		n.X * n.X * weight, n.X * n.Y * weight, n.X * n.Z * weight, n.X * d * weight,
		n.Y * n.Y * weight, n.Y * n.Z * weight, n.Y * d * weight,
		n.Z * n.Z * weight, n.Z * d * weight,
		d * d * weight,
	}
}

func (q quadric) add(o quadric) quadric {
	for i := range q {
		q[i] += o[i]
	}
	return q
}

func (q quadric) eval(v r3.Vector) float64 {
	return q[0]*v.X*v.X + 2*q[1]*v.X*v.Y + 2*q[2]*v.X*v.Z + 2*q[3]*v.X +
		q[4]*v.Y*v.Y + 2*q[5]*v.Y*v.Z + 2*q[6]*v.Y +
		q[7]*v.Z*v.Z + 2*q[8]*v.Z +
		q[9]
}

// optimum returns the position minimizing the quadric, if the system is well conditioned.
func (q quadric) optimum() (r3.Vector, bool) {
	a := mat.NewSymDense(3, []float64{
		q[0], q[1], q[2],
		q[1], q[4], q[5],
		q[2], q[5], q[7],
	})
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(3, []float64{-q[3], -q[6], -q[8]})); err != nil {
		return r3.Vector{}, false
	}
	v := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) {
		return r3.Vector{}, false
	}
	return v, true
}

type collapse struct {
	cost   float64
	a, b   uint32
	sa, sb uint32
}

type collapseHeap []collapse

func (h collapseHeap) Len() int { return len(h) }

func (h collapseHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	if h[i].a != h[j].a {
		return h[i].a < h[j].a
	}
	return h[i].b < h[j].b
}

func (h collapseHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *collapseHeap) Push(x any) { *h = append(*h, x.(collapse)) }

func (h *collapseHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type simplifier struct {
	topo  *topology
	bound float64

	alive    []bool
	live     int
	removed  []bool
	stamp    []uint32
	vtris    [][]int
	quadrics []quadric
	// region[v] lists the original triangles v's collapses have absorbed
	region   [][]int32
	original []spatialmath.Triangle
	// every original vertex is assigned to a live triangle within the bound of it
	origin   []r3.Vector
	assigned [][]uint32
	pending  []assignment
	queue    collapseHeap
}

func newSimplifier(topo *topology, bound float64) *simplifier {
	nv, nt := len(topo.positions), len(topo.tris)
	s := &simplifier{
		topo:     topo,
		bound:    bound,
		alive:    make([]bool, nt),
		live:     nt,
		removed:  make([]bool, nv),
		stamp:    make([]uint32, nv),
		vtris:    make([][]int, nv),
		quadrics: make([]quadric, nv),
		region:   make([][]int32, nv),
		original: make([]spatialmath.Triangle, nt),
		origin:   append([]r3.Vector(nil), topo.positions...),
		assigned: make([][]uint32, nt),
	}
	for t, tri := range topo.tris {
		s.alive[t] = true
		p0, p1, p2 := topo.positions[tri.v[0]], topo.positions[tri.v[1]], topo.positions[tri.v[2]]
		s.original[t] = spatialmath.NewTriangle(p0, p1, p2)
		n := s.original[t].Normal()
		q := planeQuadric(n, -n.Dot(p0), s.original[t].Area())
		for _, v := range tri.v {
			s.vtris[v] = append(s.vtris[v], t)
			s.quadrics[v] = s.quadrics[v].add(q)
			s.region[v] = append(s.region[v], int32(t))
		}
	}
	for v, ts := range s.vtris {
		if len(ts) > 0 {
			s.assigned[ts[0]] = append(s.assigned[ts[0]], uint32(v))
		}
	}
	for a, ns := range topo.neighbors {
		for _, b := range ns {
			if uint32(a) < b {
				s.push(uint32(a), b)
			}
		}
	}
	return s
}

// run collapses edges while a collapse, which removes two triangles, keeps at least target.
func (s *simplifier) run(target int) {
	for s.live-2 >= target && s.queue.Len() > 0 {
		c := heap.Pop(&s.queue).(collapse)
		if s.removed[c.a] || s.removed[c.b] || s.stamp[c.a] != c.sa || s.stamp[c.b] != c.sb {
			continue
		}
		if !s.linkOK(c.a, c.b) {
			continue
		}
		keep, drop, candidates := s.candidates(c.a, c.b)
		for _, p := range candidates {
			if s.valid(c.a, c.b, p) {
				s.apply(keep, drop, p)
				break
			}
		}
	}
}

// candidates returns the vertex to keep, the vertex to remove and the positions to try, cheapest
// first. Frozen vertices pin the position.
func (s *simplifier) candidates(a, b uint32) (uint32, uint32, []r3.Vector) {
	fa, fb := s.topo.boundary[a], s.topo.boundary[b]
	pa, pb := s.topo.positions[a], s.topo.positions[b]
	switch {
	case fa && fb:
		return a, b, nil
	case fa:
		return a, b, []r3.Vector{pa}
	case fb:
		return b, a, []r3.Vector{pb}
	}

	q := s.quadrics[a].add(s.quadrics[b])
	var ps []r3.Vector
	if opt, ok := q.optimum(); ok {
		ps = append(ps, opt)
	}
	ps = append(ps, pa, pb, pa.Add(pb).Mul(0.5))
	costs := make([]float64, len(ps))
	for i, p := range ps {
		costs[i] = q.eval(p)
	}
	// stable insertion sort keeps the earliest candidate on ties
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && costs[j] < costs[j-1]; j-- {
			costs[j], costs[j-1] = costs[j-1], costs[j]
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
	return a, b, ps
}

func (s *simplifier) push(a, b uint32) {
	_, _, ps := s.candidates(a, b)
	if len(ps) == 0 {
		return
	}
	q := s.quadrics[a].add(s.quadrics[b])
	heap.Push(&s.queue, collapse{cost: q.eval(ps[0]), a: a, b: b, sa: s.stamp[a], sb: s.stamp[b]})
}

// neighbors returns the vertices sharing a live triangle with v.
func (s *simplifier) neighbors(v uint32) map[uint32]struct{} {
	out := map[uint32]struct{}{}
	for _, t := range s.vtris[v] {
		if !s.alive[t] {
			continue
		}
		for _, u := range s.topo.tris[t].v {
			if u != v {
				out[u] = struct{}{}
			}
		}
	}
	return out
}

// linkOK is the link condition: a and b may only share the neighbors opposite their edge.
func (s *simplifier) linkOK(a, b uint32) bool {
	na, nb := s.neighbors(a), s.neighbors(b)
	if _, ok := na[b]; !ok {
		return false
	}
	common := 0
	for u := range na {
		if _, ok := nb[u]; ok {
			common++
		}
	}
	opposite := 0
	for _, t := range s.vtris[a] {
		if s.alive[t] && s.contains(t, b) {
			opposite++
		}
	}
	return opposite == 2 && common == opposite
}

func (s *simplifier) contains(t int, v uint32) bool {
	tri := s.topo.tris[t].v
	return tri[0] == v || tri[1] == v || tri[2] == v
}

// valid checks that moving a and b to p flips no triangle and that the surfaces before and after
// stay within the error bound of each other.
func (s *simplifier) valid(a, b uint32, p r3.Vector) bool {
	var ring []ringTriangle
	var orphans []uint32
	for _, v := range [2]uint32{a, b} {
		for _, t := range s.vtris[v] {
			if !s.alive[t] || (v == b && s.contains(t, a)) {
				continue
			}
			orphans = append(orphans, s.assigned[t]...)
			if s.contains(t, a) && s.contains(t, b) {
				continue
			}
			var before, after [3]r3.Vector
			for i, u := range s.topo.tris[t].v {
				before[i] = s.topo.positions[u]
				after[i] = before[i]
				if u == a || u == b {
					after[i] = p
				}
			}
			n0 := before[1].Sub(before[0]).Cross(before[2].Sub(before[0]))
			n1 := after[1].Sub(after[0]).Cross(after[2].Sub(after[0]))
			l0, l1 := n0.Norm(), n1.Norm()
			if l1 <= 1e-12*math.Max(l0, 1) || n0.Dot(n1) < minCollapseCosine*l0*l1 {
				return false
			}
			ring = append(ring, ringTriangle{t, spatialmath.NewTriangle(after[0], after[1], after[2])})
		}
	}
	if !s.reassign(ring, orphans) {
		return false
	}

	best := math.Inf(1)
	for _, r := range [2][]int32{s.region[a], s.region[b]} {
		for _, t := range r {
			best = math.Min(best, s.original[t].DistanceToPoint(p))
			if best <= s.bound {
				return true
			}
		}
	}
	return best <= s.bound+1e-9
}

type ringTriangle struct {
	t   int
	tri spatialmath.Triangle
}

type assignment struct {
	v uint32
	t int
}

// reassign finds, for every original vertex assigned to a triangle the collapse changes, the
// nearest triangle of the new ring. It fails when one of them is farther than the bound, and
// otherwise leaves the result in s.pending for apply.
func (s *simplifier) reassign(ring []ringTriangle, orphans []uint32) bool {
	s.pending = s.pending[:0]
	for _, v := range orphans {
		best, bestT := math.Inf(1), -1
		for _, r := range ring {
			if d := r.tri.DistanceToPoint(s.origin[v]); d < best {
				best, bestT = d, r.t
			}
		}
		if bestT < 0 || best > s.bound+1e-9 {
			return false
		}
		s.pending = append(s.pending, assignment{v, bestT})
	}
	return true
}

func (s *simplifier) apply(keep, drop uint32, p r3.Vector) {
	for _, v := range [2]uint32{keep, drop} {
		for _, t := range s.vtris[v] {
			s.assigned[t] = s.assigned[t][:0]
		}
	}
	for _, as := range s.pending {
		s.assigned[as.t] = append(s.assigned[as.t], as.v)
	}

	for _, t := range s.vtris[drop] {
		if !s.alive[t] {
			continue
		}
		if s.contains(t, keep) {
			s.alive[t] = false
			s.live--
			continue
		}
		tri := &s.topo.tris[t]
		for i, u := range tri.v {
			if u == drop {
				tri.v[i] = keep
			}
		}
		s.vtris[keep] = append(s.vtris[keep], t)
	}
	live := s.vtris[keep][:0]
	for _, t := range s.vtris[keep] {
		if s.alive[t] {
			live = append(live, t)
		}
	}
	s.vtris[keep] = live
	s.vtris[drop] = nil

	s.topo.positions[keep] = p
	s.quadrics[keep] = s.quadrics[keep].add(s.quadrics[drop])
	s.region[keep] = mergeRegions(s.region[keep], s.region[drop])
	s.region[drop] = nil
	s.removed[drop] = true
	s.stamp[keep]++
	s.stamp[drop]++

	for u := range s.neighbors(keep) {
		// every neighbor's pending collapses towards keep are stale now
		s.stamp[u]++
	}
	for u := range s.neighbors(keep) {
		a, b := keep, u
		if b < a {
			a, b = b, a
		}
		s.push(a, b)
		for w := range s.neighbors(u) {
			if w != keep {
				x, y := u, w
				if y < x {
					x, y = y, x
				}
				s.push(x, y)
			}
		}
	}
}

// mergeRegions returns the sorted union of two sorted lists.
func mergeRegions(a, b []int32) []int32 {
	out := make([]int32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

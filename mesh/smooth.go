package mesh

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	laplacianFactor = 0.5
	// Taubin smoothing factors; the negative pass undoes the shrinking of the positive one.
	taubinLambda = 0.33
	taubinMu     = -0.34
)

// SmoothingAlgorithm selects how Smooth moves vertices.
type SmoothingAlgorithm int

const (
	// SmoothingAuto picks the algorithm from the smoothing level.
	SmoothingAuto SmoothingAlgorithm = iota
	// SmoothingNone leaves the mesh as extracted.
	SmoothingNone
	// SmoothingLaplacian moves vertices towards the average of their neighbors. It removes
	// blockiness quickly and shrinks the mesh.
	SmoothingLaplacian
	// SmoothingTaubin follows each Laplacian step with an inflating one, so the volume holds.
	SmoothingTaubin
	// SmoothingBiLaplacian runs two Laplacian steps per iteration for organic shapes.
	SmoothingBiLaplacian
)

func (a SmoothingAlgorithm) String() string {
	switch a {
	case SmoothingAuto:
		return "auto"
	case SmoothingNone:
		return "none"
	case SmoothingLaplacian:
		return "laplacian"
	case SmoothingTaubin:
		return "taubin"
	case SmoothingBiLaplacian:
		return "bilaplacian"
	default:
		return "unknown"
	}
}

// PreviewQuality shortens smoothing for interactive previews.
type PreviewQuality int

const (
	// PreviewDisabled smooths fully.
	PreviewDisabled PreviewQuality = iota
	// PreviewFast runs a quarter of the iterations, always Laplacian.
	PreviewFast
	// PreviewBalanced runs a third of the iterations.
	PreviewBalanced
	// PreviewHighQuality runs half of the iterations.
	PreviewHighQuality
)

// SmoothingOptions controls Smooth.
type SmoothingOptions struct {
	// Level is the smoothing strength, 0 for none. Levels above 10 keep getting stronger.
	Level     int                `json:"level"`
	Algorithm SmoothingAlgorithm `json:"algorithm"`
	Preview   PreviewQuality     `json:"preview"`
	// MaxDisplacement, when positive, keeps every vertex within that many centimeters of where it
	// started, so holes and thin walls survive.
	MaxDisplacement float64 `json:"max_displacement"`
}

// Validate checks the options.
func (o SmoothingOptions) Validate() error {
	if o.Level < 0 {
		return errors.Wrapf(ErrInvalidSettings, "smoothing level %d", o.Level)
	}
	if o.Algorithm < SmoothingAuto || o.Algorithm > SmoothingBiLaplacian {
		return errors.Wrapf(ErrInvalidSettings, "smoothing algorithm %d", o.Algorithm)
	}
	if o.Preview < PreviewDisabled || o.Preview > PreviewHighQuality {
		return errors.Wrapf(ErrInvalidSettings, "preview quality %d", o.Preview)
	}
	if !(o.MaxDisplacement >= 0) || math.IsInf(o.MaxDisplacement, 1) {
		return errors.Wrapf(ErrInvalidSettings, "smoothing displacement %v", o.MaxDisplacement)
	}
	return nil
}

// AlgorithmForLevel returns the algorithm a level uses unless one is chosen: Laplacian for levels
// 1 to 3, Taubin for 4 to 7 and BiLaplacian above.
func AlgorithmForLevel(level int) SmoothingAlgorithm {
	switch {
	case level <= 0:
		return SmoothingNone
	case level <= 3:
		return SmoothingLaplacian
	case level <= 7:
		return SmoothingTaubin
	default:
		return SmoothingBiLaplacian
	}
}

// IterationsForLevel returns how many iterations of alg a level runs.
func IterationsForLevel(level int, alg SmoothingAlgorithm) int {
	if level <= 0 {
		return 0
	}
	switch alg {
	case SmoothingLaplacian:
		return min(level, 3) * 2
	case SmoothingTaubin:
		return 1 + min(max(level-3, 1), 4)*2
	case SmoothingBiLaplacian:
		return 2 + max(level-7, 1)*2
	default:
		return 0
	}
}

// plan resolves the algorithm and iteration count the options run.
func (o SmoothingOptions) plan() (SmoothingAlgorithm, int) {
	alg := o.Algorithm
	if alg == SmoothingAuto {
		alg = AlgorithmForLevel(o.Level)
	}
	iterations := IterationsForLevel(o.Level, alg)
	if iterations == 0 {
		return SmoothingNone, 0
	}
	switch o.Preview {
	case PreviewFast:
		return SmoothingLaplacian, max(1, iterations/4)
	case PreviewBalanced:
		iterations = max(1, iterations/3)
	case PreviewHighQuality:
		iterations = max(1, iterations/2)
	}
	return alg, iterations
}

// Smooth rounds off m according to o. Vertices on open or non-manifold edges stay where they
// are, so chunk borders keep matching their neighbors. Cancellation is checked between iterations
// and reported as ctx's error. The result has smooth normals and no UVs; use Rebuild to apply
// other options.
func Smooth(ctx context.Context, m *Mesh, o SmoothingOptions) (*Mesh, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	alg, iterations := o.plan()
	if iterations == 0 || m.IsEmpty() {
		return m, nil
	}

	topo := newTopology(m)
	s := &smoother{
		topo:   topo,
		origin: append([]r3.Vector(nil), topo.positions...),
		next:   make([]r3.Vector, len(topo.positions)),
		limit:  o.MaxDisplacement,
	}
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch alg {
		case SmoothingLaplacian:
			s.step(laplacianFactor)
		case SmoothingTaubin:
			s.step(taubinLambda)
			s.step(taubinMu)
		case SmoothingBiLaplacian:
			s.step(laplacianFactor)
			s.step(laplacianFactor)
		}
	}
	return topo.build(nil)
}

type smoother struct {
	topo   *topology
	origin []r3.Vector
	next   []r3.Vector
	limit  float64
}

// step moves every free vertex by factor times the offset to its neighbors' average.
func (s *smoother) step(factor float64) {
	for v, p := range s.topo.positions {
		ns := s.topo.neighbors[v]
		if s.topo.boundary[v] || len(ns) == 0 {
			s.next[v] = p
			continue
		}
		var avg r3.Vector
		for _, n := range ns {
			avg = avg.Add(s.topo.positions[n])
		}
		avg = avg.Mul(1 / float64(len(ns)))
		q := p.Add(avg.Sub(p).Mul(factor))
		if s.limit > 0 {
			if d := q.Sub(s.origin[v]); d.Norm() > s.limit {
				q = s.origin[v].Add(d.Mul(s.limit / d.Norm()))
			}
		}
		s.next[v] = q
	}
	s.topo.positions, s.next = s.next, s.topo.positions
}

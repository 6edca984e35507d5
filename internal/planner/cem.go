package planner

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"probcoll/internal/control"
	"probcoll/internal/obs"
	"probcoll/internal/predictor"
)

// cemPlanner iteratively refines a per-timestep Gaussian sampling
// distribution around the elite candidates. All draws flow through the
// explicit rng, so a fixed seed and snapshot reproduce the plan exactly.
type cemPlanner struct {
	bounds      control.Bounds
	initM       int
	m           int
	k           int
	numIters    int
	eps         float64
	budgetScale float64
	scorer      *scorer
	rng         *rand.Rand
}

func newCEMPlanner(cfg Config, s *scorer, rng *rand.Rand) (*cemPlanner, error) {
	if cfg.InitM <= 0 {
		return nil, fmt.Errorf("cem planner requires init_m > 0")
	}
	if cfg.K <= 0 || cfg.K > cfg.InitM {
		return nil, fmt.Errorf("cem planner requires k in [1, init_m]")
	}
	if cfg.NumIters > 0 && cfg.M <= 0 {
		return nil, fmt.Errorf("cem planner requires m > 0 when num_iters > 0")
	}
	if cfg.NumIters < 0 {
		return nil, fmt.Errorf("cem planner requires num_iters >= 0")
	}
	eps := cfg.Eps
	if eps <= 0 {
		eps = 1e-6
	}
	return &cemPlanner{
		bounds:      cfg.Bounds,
		initM:       cfg.InitM,
		m:           cfg.M,
		k:           cfg.K,
		numIters:    cfg.NumIters,
		eps:         eps,
		budgetScale: 1.0,
		scorer:      s,
		rng:         rng,
	}, nil
}

func (p *cemPlanner) Name() string {
	return TypeCEM
}

func (p *cemPlanner) SetBudgetScale(scale float64) {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	p.budgetScale = scale
}

type scoredCandidate struct {
	idx      int
	cost     float64
	sequence control.Sequence
}

func (p *cemPlanner) Plan(ctx context.Context, history []obs.Vector, snap *predictor.Snapshot, horizon int) (control.Sequence, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be > 0", ErrPlanningFailure)
	}

	initM := scaledCount(p.initM, p.budgetScale, p.k)
	candidates := make([]control.Sequence, initM)
	for i := range candidates {
		candidates[i] = p.bounds.SampleSequence(p.rng, horizon)
	}

	costs, bestIdx, err := p.scorer.scoreAll(ctx, history, snap, candidates)
	if err != nil {
		return nil, err
	}

	pool := make([]scoredCandidate, len(candidates))
	for i := range candidates {
		pool[i] = scoredCandidate{idx: i, cost: costs[i], sequence: candidates[i]}
	}
	best := pool[bestIdx]
	drawn := len(candidates)

	for iter := 0; iter < p.numIters; iter++ {
		elites := selectElites(pool, p.k)
		dist, err := p.fitDistribution(elites, horizon)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlanningFailure, err)
		}

		m := scaledCount(p.m, p.budgetScale, p.k)
		resampled := make([]control.Sequence, m)
		for i := range resampled {
			resampled[i] = dist.sample(p.rng, p.bounds)
		}

		costs, _, err := p.scorer.scoreAll(ctx, history, snap, resampled)
		if err != nil {
			return nil, err
		}

		pool = pool[:0]
		for i := range resampled {
			sc := scoredCandidate{idx: drawn + i, cost: costs[i], sequence: resampled[i]}
			pool = append(pool, sc)
			if sc.cost < best.cost {
				best = sc
			}
		}
		drawn += len(resampled)
	}

	return best.sequence, nil
}

// selectElites returns the k lowest-cost candidates; exact ties keep the
// earlier-drawn candidate first.
func selectElites(pool []scoredCandidate, k int) []scoredCandidate {
	ranked := append([]scoredCandidate(nil), pool...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].cost != ranked[j].cost {
			return ranked[i].cost < ranked[j].cost
		}
		return ranked[i].idx < ranked[j].idx
	})
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}

// gaussianSequence is a per-timestep mean and Cholesky factor of the
// regularized elite covariance.
type gaussianSequence struct {
	dim   int
	means [][]float64
	chols []*mat.Cholesky
}

// fitDistribution fits per-timestep mean/covariance to the elite set. The
// covariance gets eps*I added, so the Cholesky factorization succeeds even
// for degenerate (all-identical) elites.
func (p *cemPlanner) fitDistribution(elites []scoredCandidate, horizon int) (*gaussianSequence, error) {
	dim := p.bounds.Dim()
	dist := &gaussianSequence{
		dim:   dim,
		means: make([][]float64, horizon),
		chols: make([]*mat.Cholesky, horizon),
	}
	n := float64(len(elites))
	for t := 0; t < horizon; t++ {
		mean := make([]float64, dim)
		for _, e := range elites {
			for d := 0; d < dim; d++ {
				mean[d] += e.sequence[t][d]
			}
		}
		for d := 0; d < dim; d++ {
			mean[d] /= n
		}

		cov := mat.NewSymDense(dim, nil)
		for _, e := range elites {
			for i := 0; i < dim; i++ {
				for j := i; j < dim; j++ {
					cov.SetSym(i, j, cov.At(i, j)+(e.sequence[t][i]-mean[i])*(e.sequence[t][j]-mean[j])/n)
				}
			}
		}
		for i := 0; i < dim; i++ {
			cov.SetSym(i, i, cov.At(i, i)+p.eps)
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(cov); !ok {
			return nil, fmt.Errorf("elite covariance not positive definite at step %d", t)
		}
		dist.means[t] = mean
		dist.chols[t] = &chol
	}
	return dist, nil
}

// sample draws one sequence from the fitted distribution, clipped to bounds.
func (g *gaussianSequence) sample(rng *rand.Rand, bounds control.Bounds) control.Sequence {
	seq := make(control.Sequence, len(g.means))
	var l mat.TriDense
	for t := range g.means {
		g.chols[t].LTo(&l)
		z := make([]float64, g.dim)
		for d := range z {
			z[d] = rng.NormFloat64()
		}
		u := make(control.Control, g.dim)
		for i := 0; i < g.dim; i++ {
			v := g.means[t][i]
			for j := 0; j <= i; j++ {
				v += l.At(i, j) * z[j]
			}
			u[i] = v
		}
		seq[t] = bounds.Clip(u)
	}
	return seq
}

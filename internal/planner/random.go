package planner

import (
	"context"
	"fmt"
	"math/rand"

	"probcoll/internal/control"
	"probcoll/internal/obs"
	"probcoll/internal/predictor"
)

// randomPlanner draws K independent candidate sequences uniformly within
// bounds and returns the lowest-cost one.
type randomPlanner struct {
	bounds        control.Bounds
	numCandidates int
	budgetScale   float64
	scorer        *scorer
	rng           *rand.Rand
}

func newRandomPlanner(cfg Config, s *scorer, rng *rand.Rand) (*randomPlanner, error) {
	if cfg.NumCandidates <= 0 {
		return nil, fmt.Errorf("random planner requires num_candidates > 0")
	}
	return &randomPlanner{
		bounds:        cfg.Bounds,
		numCandidates: cfg.NumCandidates,
		budgetScale:   1.0,
		scorer:        s,
		rng:           rng,
	}, nil
}

func (p *randomPlanner) Name() string {
	return TypeRandom
}

func (p *randomPlanner) SetBudgetScale(scale float64) {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	p.budgetScale = scale
}

func (p *randomPlanner) Plan(ctx context.Context, history []obs.Vector, snap *predictor.Snapshot, horizon int) (control.Sequence, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be > 0", ErrPlanningFailure)
	}
	count := scaledCount(p.numCandidates, p.budgetScale, 1)
	candidates := make([]control.Sequence, count)
	for i := range candidates {
		candidates[i] = p.bounds.SampleSequence(p.rng, horizon)
	}
	_, best, err := p.scorer.scoreAll(ctx, history, snap, candidates)
	if err != nil {
		return nil, err
	}
	return candidates[best], nil
}

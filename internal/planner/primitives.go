package planner

import (
	"context"
	"fmt"

	"probcoll/internal/control"
	"probcoll/internal/obs"
	"probcoll/internal/predictor"
)

// primitivesPlanner restricts the candidate space to a fixed grid of steering
// values crossed with a fixed speed set: physically meaningful maneuvers
// rather than the full continuous space. With num_splits > 1 the horizon is
// divided into temporal segments that may each pick a different primitive.
type primitivesPlanner struct {
	bounds    control.Bounds
	steers    []float64
	speeds    []float64
	numSplits int
	scorer    *scorer
}

func newPrimitivesPlanner(cfg Config, s *scorer) (*primitivesPlanner, error) {
	if cfg.Bounds.Dim() != 2 {
		return nil, fmt.Errorf("primitives planner requires a [steer, speed] control space, got %d dimensions", cfg.Bounds.Dim())
	}
	if len(cfg.Steers) == 0 || len(cfg.Speeds) == 0 {
		return nil, fmt.Errorf("primitives planner requires steering and speed grids")
	}
	numSplits := cfg.NumSplits
	if numSplits <= 0 {
		numSplits = 1
	}
	for _, steer := range cfg.Steers {
		if steer < cfg.Bounds.Lower[0] || steer > cfg.Bounds.Upper[0] {
			return nil, fmt.Errorf("primitive steering %g outside bounds [%g, %g]", steer, cfg.Bounds.Lower[0], cfg.Bounds.Upper[0])
		}
	}
	for _, speed := range cfg.Speeds {
		if speed < cfg.Bounds.Lower[1] || speed > cfg.Bounds.Upper[1] {
			return nil, fmt.Errorf("primitive speed %g outside bounds [%g, %g]", speed, cfg.Bounds.Lower[1], cfg.Bounds.Upper[1])
		}
	}
	return &primitivesPlanner{
		bounds:    cfg.Bounds,
		steers:    append([]float64(nil), cfg.Steers...),
		speeds:    append([]float64(nil), cfg.Speeds...),
		numSplits: numSplits,
		scorer:    s,
	}, nil
}

func (p *primitivesPlanner) Name() string {
	return TypePrimitives
}

func (p *primitivesPlanner) Plan(ctx context.Context, history []obs.Vector, snap *predictor.Snapshot, horizon int) (control.Sequence, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be > 0", ErrPlanningFailure)
	}
	splits := p.numSplits
	if splits > horizon {
		splits = horizon
	}
	candidates := p.enumerate(horizon, splits)
	_, best, err := p.scorer.scoreAll(ctx, history, snap, candidates)
	if err != nil {
		return nil, err
	}
	return candidates[best], nil
}

// enumerate builds the full candidate set: every assignment of one primitive
// per temporal segment, in deterministic grid order.
func (p *primitivesPlanner) enumerate(horizon, splits int) []control.Sequence {
	grid := make([]control.Control, 0, len(p.steers)*len(p.speeds))
	for _, steer := range p.steers {
		for _, speed := range p.speeds {
			grid = append(grid, control.Control{steer, speed})
		}
	}

	total := 1
	for s := 0; s < splits; s++ {
		total *= len(grid)
	}

	segLen := horizon / splits
	candidates := make([]control.Sequence, 0, total)
	assignment := make([]int, splits)
	for c := 0; c < total; c++ {
		rem := c
		for s := 0; s < splits; s++ {
			assignment[s] = rem % len(grid)
			rem /= len(grid)
		}
		seq := make(control.Sequence, horizon)
		for t := 0; t < horizon; t++ {
			seg := t / segLen
			if seg >= splits {
				seg = splits - 1
			}
			seq[t] = grid[assignment[seg]].Clone()
		}
		candidates = append(candidates, seq)
	}
	return candidates
}

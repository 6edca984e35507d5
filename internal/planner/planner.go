package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"probcoll/internal/control"
	"probcoll/internal/cost"
	"probcoll/internal/obs"
	"probcoll/internal/predictor"
)

// ErrPlanningFailure marks a predictor or sampler failure mid-cycle. The
// episode runner recovers by holding the safe default action.
var ErrPlanningFailure = errors.New("planning failure")

// Planner produces one action sequence per planning cycle. Implementations
// are a closed set chosen once by configuration, not a runtime decision.
type Planner interface {
	Name() string
	Plan(ctx context.Context, history []obs.Vector, snap *predictor.Snapshot, horizon int) (control.Sequence, error)
}

// BudgetAdjustable is implemented by planners whose candidate count can be
// scaled down when the control loop misses its pacing deadline.
type BudgetAdjustable interface {
	SetBudgetScale(scale float64)
}

const (
	TypeRandom     = "random"
	TypePrimitives = "primitives"
	TypeCEM        = "cem"
)

// Config selects and parameterizes one planner strategy.
type Config struct {
	Type    string         `json:"type"`
	Bounds  control.Bounds `json:"bounds"`
	Workers int            `json:"workers"`

	// Random
	NumCandidates int `json:"num_candidates"`

	// Primitives
	Steers    []float64 `json:"steers"`
	Speeds    []float64 `json:"speeds"`
	NumSplits int       `json:"num_splits"`

	// CEM
	InitM    int     `json:"init_m"`
	M        int     `json:"m"`
	K        int     `json:"k"`
	NumIters int     `json:"num_iters"`
	Eps      float64 `json:"eps"`
}

// New builds the configured planner variant.
func New(cfg Config, pred *predictor.Predictor, eval *cost.Evaluator, rng *rand.Rand) (Planner, error) {
	if pred == nil {
		return nil, fmt.Errorf("predictor is required")
	}
	if eval == nil {
		return nil, fmt.Errorf("cost evaluator is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	scorer := &scorer{pred: pred, eval: eval, workers: cfg.Workers}
	switch cfg.Type {
	case "", TypeRandom:
		return newRandomPlanner(cfg, scorer, rng)
	case TypePrimitives:
		return newPrimitivesPlanner(cfg, scorer)
	case TypeCEM:
		return newCEMPlanner(cfg, scorer, rng)
	default:
		return nil, fmt.Errorf("unsupported planner type: %s", cfg.Type)
	}
}

// scorer spreads candidate evaluation over a worker pool. Candidates carry
// their draw index, so the final argmin is total and deterministic: exact
// cost ties go to the first-drawn candidate.
type scorer struct {
	pred    *predictor.Predictor
	eval    *cost.Evaluator
	workers int
}

type scoreJob struct {
	idx       int
	candidate control.Sequence
}

type scoreResult struct {
	idx  int
	cost float64
	err  error
}

// scoreAll returns the per-candidate costs and the winning index.
func (s *scorer) scoreAll(ctx context.Context, history []obs.Vector, snap *predictor.Snapshot, candidates []control.Sequence) ([]float64, int, error) {
	if len(candidates) == 0 {
		return nil, -1, fmt.Errorf("%w: no candidates to score", ErrPlanningFailure)
	}

	jobs := make(chan scoreJob)
	results := make(chan scoreResult, len(candidates))

	workerCount := s.workers
	if workerCount > len(candidates) {
		workerCount = len(candidates)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				probs, uncertainty, err := s.pred.Predict(history, job.candidate, snap)
				if err != nil {
					results <- scoreResult{idx: job.idx, err: err}
					continue
				}
				results <- scoreResult{idx: job.idx, cost: s.eval.Cost(job.candidate, probs, uncertainty)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, candidate := range candidates {
			select {
			case <-ctx.Done():
				return
			case jobs <- scoreJob{idx: i, candidate: candidate}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	costs := make([]float64, len(candidates))
	seen := make([]bool, len(candidates))
	var firstErr error
	for res := range results {
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		costs[res.idx] = res.cost
		seen[res.idx] = true
	}
	if err := ctx.Err(); err != nil {
		return nil, -1, fmt.Errorf("%w: %v", ErrPlanningFailure, err)
	}
	if firstErr != nil {
		return nil, -1, fmt.Errorf("%w: %v", ErrPlanningFailure, firstErr)
	}
	for i, ok := range seen {
		if !ok {
			return nil, -1, fmt.Errorf("%w: candidate %d was not scored", ErrPlanningFailure, i)
		}
	}

	best := 0
	for i := 1; i < len(costs); i++ {
		if costs[i] < costs[best] {
			best = i
		}
	}
	return costs, best, nil
}

func scaledCount(base int, scale float64, floor int) int {
	n := int(float64(base) * scale)
	if n < floor {
		n = floor
	}
	if n > base {
		n = base
	}
	return n
}

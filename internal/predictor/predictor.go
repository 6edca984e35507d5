package predictor

import (
	"errors"
	"fmt"

	"probcoll/internal/control"
	"probcoll/internal/obs"
)

// ErrShapeMismatch marks an observation or action dimension mismatch. Fatal
// per call; should never occur after startup validation.
var ErrShapeMismatch = errors.New("shape mismatch")

// Member is one bootstrap-trained instance of the collision predictor.
// StepProbs returns, per horizon step, the raw probability that a collision
// has occurred by that step.
type Member interface {
	StepProbs(history []obs.Vector, actions control.Sequence) ([]float64, error)
}

// Config controls how the interface aggregates ensemble members.
type Config struct {
	Horizon int
	// StrictlyIncreasing clamps prob[t] = max(prob[t], prob[t-1]) before the
	// aggregated sequence is returned.
	StrictlyIncreasing bool
}

// Predictor is the collision predictor interface consumed by the cost
// evaluator: it aggregates one whole ensemble snapshot per query.
type Predictor struct {
	cfg Config
}

func New(cfg Config) (*Predictor, error) {
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("predictor horizon must be > 0")
	}
	return &Predictor{cfg: cfg}, nil
}

func (p *Predictor) Horizon() int {
	return p.cfg.Horizon
}

// Predict returns per-step collision probability (ensemble mean) and
// epistemic uncertainty (variance of the members' individual estimates).
func (p *Predictor) Predict(history []obs.Vector, actions control.Sequence, snap *Snapshot) (probs, uncertainty []float64, err error) {
	if len(actions) < p.cfg.Horizon {
		return nil, nil, fmt.Errorf("%w: action sequence length %d below horizon %d", ErrShapeMismatch, len(actions), p.cfg.Horizon)
	}
	if snap == nil || len(snap.Members) == 0 {
		return nil, nil, fmt.Errorf("ensemble snapshot is empty")
	}

	horizon := p.cfg.Horizon
	memberProbs := make([][]float64, len(snap.Members))
	for i, member := range snap.Members {
		raw, err := member.StepProbs(history, actions[:horizon])
		if err != nil {
			return nil, nil, fmt.Errorf("ensemble member %d: %w", i, err)
		}
		if len(raw) != horizon {
			return nil, nil, fmt.Errorf("%w: member %d returned %d probs for horizon %d", ErrShapeMismatch, i, len(raw), horizon)
		}
		memberProbs[i] = raw
	}

	probs = make([]float64, horizon)
	uncertainty = make([]float64, horizon)
	n := float64(len(snap.Members))
	for t := 0; t < horizon; t++ {
		mean := 0.0
		for i := range memberProbs {
			mean += memberProbs[i][t]
		}
		mean /= n
		variance := 0.0
		for i := range memberProbs {
			d := memberProbs[i][t] - mean
			variance += d * d
		}
		probs[t] = mean
		uncertainty[t] = variance / n
	}

	if p.cfg.StrictlyIncreasing {
		for t := 1; t < horizon; t++ {
			if probs[t] < probs[t-1] {
				probs[t] = probs[t-1]
			}
		}
	}
	return probs, uncertainty, nil
}

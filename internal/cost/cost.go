package cost

import (
	"fmt"

	"probcoll/internal/control"
)

// Config weights the two cost terms. A zero weight disables its term, which
// is how staged training ramps the collision weight from 0.
type Config struct {
	CollWeight  float64   `json:"coll_weight"`
	CtrlWeights []float64 `json:"ctrl_weights"`
	Desired     []float64 `json:"desired"`
}

// Evaluator scores candidate action sequences: a monotone (square) function
// of predicted collision probability plus squared control deviation from the
// desired control, summed over the horizon. Lower is better.
type Evaluator struct {
	cfg Config
}

func New(cfg Config) (*Evaluator, error) {
	if cfg.CollWeight < 0 {
		return nil, fmt.Errorf("collision weight must be >= 0")
	}
	if len(cfg.CtrlWeights) != len(cfg.Desired) {
		return nil, fmt.Errorf("control weights dimension mismatch: weights=%d desired=%d", len(cfg.CtrlWeights), len(cfg.Desired))
	}
	for i, w := range cfg.CtrlWeights {
		if w < 0 {
			return nil, fmt.Errorf("control weight must be >= 0 at dimension %d", i)
		}
	}
	return &Evaluator{cfg: cfg}, nil
}

// Cost scores one candidate. Uncertainty is accepted for signature parity
// with the predictor output; it does not enter the base cost.
func (e *Evaluator) Cost(actions control.Sequence, probs, uncertainty []float64) float64 {
	total := 0.0
	for t, u := range actions {
		if t < len(probs) {
			total += e.cfg.CollWeight * probs[t] * probs[t]
		}
		for d := range u {
			if d >= len(e.cfg.CtrlWeights) {
				break
			}
			dev := u[d] - e.cfg.Desired[d]
			total += e.cfg.CtrlWeights[d] * dev * dev
		}
	}
	return total
}

func (e *Evaluator) Desired() control.Control {
	return append(control.Control(nil), e.cfg.Desired...)
}

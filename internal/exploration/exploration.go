package exploration

import (
	"fmt"
	"math/rand"

	"probcoll/internal/control"
)

// NoiseType selects how planned actions are perturbed when the epsilon
// branch is not taken.
type NoiseType string

const (
	NoiseZero     NoiseType = "zero"
	NoiseGaussian NoiseType = "gaussian"
	NoiseUniform  NoiseType = "uniform"
	// NoiseOU is Ornstein-Uhlenbeck: temporally correlated noise, stateful
	// per episode.
	NoiseOU NoiseType = "ou"
)

// Config parameterizes the exploration policy. EpsilonBounds interpolate
// epsilon linearly over episode progress; the exploration bounds may be a
// narrower range than the global control bounds.
type Config struct {
	Bounds            control.Bounds `json:"-"`
	ExplorationBounds control.Bounds `json:"-"`
	EpsilonBounds     [2]float64     `json:"epsilon_bounds"`

	Noise        NoiseType `json:"noise"`
	GaussianStd  []float64 `json:"gaussian_std"`
	UniformLower []float64 `json:"uniform_lower"`
	UniformUpper []float64 `json:"uniform_upper"`
	OUTheta      float64   `json:"ou_theta"`
	OUSigma      float64   `json:"ou_sigma"`
}

// Policy guarantees the training log keeps seeing near-collision data even
// once the predictor is confident: with probability epsilon it ignores the
// plan entirely, otherwise it adds bounded control noise.
type Policy struct {
	cfg     Config
	ouState []float64
}

func NewPolicy(cfg Config) (*Policy, error) {
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("global bounds: %w", err)
	}
	if cfg.ExplorationBounds.Dim() == 0 {
		cfg.ExplorationBounds = cfg.Bounds
	}
	if err := cfg.ExplorationBounds.Validate(); err != nil {
		return nil, fmt.Errorf("exploration bounds: %w", err)
	}
	if cfg.ExplorationBounds.Dim() != cfg.Bounds.Dim() {
		return nil, fmt.Errorf("exploration bounds dimension mismatch: got=%d want=%d", cfg.ExplorationBounds.Dim(), cfg.Bounds.Dim())
	}
	for _, e := range cfg.EpsilonBounds {
		if e < 0 || e > 1 {
			return nil, fmt.Errorf("epsilon bounds must be in [0, 1], got %g", e)
		}
	}
	dim := cfg.Bounds.Dim()
	switch cfg.Noise {
	case "", NoiseZero:
		cfg.Noise = NoiseZero
	case NoiseGaussian:
		if len(cfg.GaussianStd) != dim {
			return nil, fmt.Errorf("gaussian noise std dimension mismatch: got=%d want=%d", len(cfg.GaussianStd), dim)
		}
	case NoiseUniform:
		if len(cfg.UniformLower) != dim || len(cfg.UniformUpper) != dim {
			return nil, fmt.Errorf("uniform noise offsets dimension mismatch")
		}
		for i := range cfg.UniformLower {
			if cfg.UniformLower[i] > cfg.UniformUpper[i] {
				return nil, fmt.Errorf("uniform noise offsets inverted at dimension %d", i)
			}
		}
	case NoiseOU:
		if cfg.OUTheta <= 0 || cfg.OUSigma <= 0 {
			return nil, fmt.Errorf("ou noise requires theta > 0 and sigma > 0")
		}
	default:
		return nil, fmt.Errorf("unsupported noise type: %s", cfg.Noise)
	}
	return &Policy{cfg: cfg}, nil
}

// Reset clears per-episode noise state. Call at episode start.
func (p *Policy) Reset() {
	p.ouState = nil
}

// Epsilon returns the randomization probability at the given episode
// progress in [0, 1].
func (p *Policy) Epsilon(progress float64) float64 {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	lo, hi := p.cfg.EpsilonBounds[0], p.cfg.EpsilonBounds[1]
	return lo + (hi-lo)*progress
}

// Explore post-processes the planned action. The second return value reports
// whether the result deviates from the plan (epsilon override or non-zero
// noise), which the trainer's label policy consumes.
func (p *Policy) Explore(rng *rand.Rand, planned control.Control, progress float64) (control.Control, bool) {
	if rng.Float64() < p.Epsilon(progress) {
		return p.cfg.ExplorationBounds.SampleUniform(rng), true
	}

	switch p.cfg.Noise {
	case NoiseZero:
		return p.cfg.Bounds.Clip(planned), false
	case NoiseGaussian:
		out := planned.Clone()
		for i := range out {
			out[i] += rng.NormFloat64() * p.cfg.GaussianStd[i]
		}
		return p.cfg.Bounds.Clip(out), true
	case NoiseUniform:
		out := planned.Clone()
		for i := range out {
			out[i] += p.cfg.UniformLower[i] + rng.Float64()*(p.cfg.UniformUpper[i]-p.cfg.UniformLower[i])
		}
		return p.cfg.Bounds.Clip(out), true
	case NoiseOU:
		if p.ouState == nil {
			p.ouState = make([]float64, len(planned))
		}
		out := planned.Clone()
		for i := range out {
			p.ouState[i] += -p.cfg.OUTheta*p.ouState[i] + p.cfg.OUSigma*rng.NormFloat64()
			out[i] += p.ouState[i]
		}
		return p.cfg.Bounds.Clip(out), true
	}
	return p.cfg.Bounds.Clip(planned), false
}

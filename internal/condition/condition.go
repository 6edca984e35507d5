package condition

import (
	"errors"
	"fmt"
	"math/rand"

	"probcoll/internal/model"
)

// ErrConfiguration marks bad or inconsistent condition parameters. Fatal at
// startup.
var ErrConfiguration = errors.New("condition configuration error")

// DimensionRange declares a [Min, Max] range discretized into NumBins values
// for randomized condition draws.
type DimensionRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	NumBins int     `json:"num_bins"`
}

// Spec parameterizes an episode batch: how initial control values are drawn
// and how often each base draw repeats.
type Spec struct {
	Defaults       []float64        `json:"defaults"`
	Ranges         []DimensionRange `json:"ranges"`
	Perturbations  []float64        `json:"perturbations"`
	Repeats        int              `json:"repeats"`
	RandomizeConds bool             `json:"randomize_conds"`
	RandomizeReps  bool             `json:"randomize_reps"`
	// TestEvery flags every Nth base condition as a held-out test condition.
	// Zero disables test conditions.
	TestEvery int `json:"test_every"`
}

func (s Spec) validate() error {
	if len(s.Defaults) == 0 {
		return fmt.Errorf("%w: default control values are required", ErrConfiguration)
	}
	if s.Repeats <= 0 {
		return fmt.Errorf("%w: repeats must be > 0", ErrConfiguration)
	}
	if s.RandomizeConds {
		if len(s.Ranges) != len(s.Defaults) {
			return fmt.Errorf("%w: ranges dimension mismatch: got=%d want=%d", ErrConfiguration, len(s.Ranges), len(s.Defaults))
		}
		for i, r := range s.Ranges {
			if r.NumBins < 1 {
				return fmt.Errorf("%w: empty range at dimension %d: num_bins=%d", ErrConfiguration, i, r.NumBins)
			}
			if r.Min > r.Max {
				return fmt.Errorf("%w: inverted range at dimension %d: [%g, %g]", ErrConfiguration, i, r.Min, r.Max)
			}
		}
	}
	if s.RandomizeReps && len(s.Perturbations) != len(s.Defaults) {
		return fmt.Errorf("%w: perturbations dimension mismatch: got=%d want=%d", ErrConfiguration, len(s.Perturbations), len(s.Defaults))
	}
	if s.TestEvery < 0 {
		return fmt.Errorf("%w: test_every must be >= 0", ErrConfiguration)
	}
	return nil
}

// Manager draws per-episode initial conditions. All randomness flows through
// the explicit rng so a seed reproduces the exact condition sequence.
type Manager struct {
	spec Spec
	rng  *rand.Rand

	cond int
	rep  int
	base []float64
}

func NewManager(spec Spec, rng *rand.Rand) (*Manager, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrConfiguration)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &Manager{spec: spec, rng: rng}, nil
}

// Repeats reports how many episodes each base draw seeds.
func (m *Manager) Repeats() int {
	return m.spec.Repeats
}

// Next returns the condition for the next episode. Repeats of the same base
// draw reuse its values, perturbed by rep*delta when randomize_reps is set.
func (m *Manager) Next() (model.Condition, error) {
	if m.rep == 0 {
		m.base = m.drawBase()
	}

	values := append([]float64(nil), m.base...)
	if m.spec.RandomizeReps && m.rep > 0 {
		for i := range values {
			values[i] += float64(m.rep) * m.spec.Perturbations[i]
		}
	}

	cond := model.Condition{
		ID:     fmt.Sprintf("cond:%d:%d", m.cond, m.rep),
		Index:  m.cond,
		Rep:    m.rep,
		Values: values,
		IsTest: m.spec.TestEvery > 0 && m.cond%m.spec.TestEvery == 0 && m.cond > 0,
	}

	m.rep++
	if m.rep >= m.spec.Repeats {
		m.rep = 0
		m.cond++
	}
	return cond, nil
}

func (m *Manager) drawBase() []float64 {
	if !m.spec.RandomizeConds {
		return append([]float64(nil), m.spec.Defaults...)
	}
	values := make([]float64, len(m.spec.Ranges))
	for i, r := range m.spec.Ranges {
		if r.NumBins == 1 {
			values[i] = r.Min
			continue
		}
		bin := m.rng.Intn(r.NumBins)
		values[i] = r.Min + (r.Max-r.Min)*float64(bin)/float64(r.NumBins-1)
	}
	return values
}

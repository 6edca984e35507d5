package predictor

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"probcoll/internal/control"
	"probcoll/internal/obs"
)

// Example is one labeled training tuple: the observation preceding an
// executed action and whether a collision had occurred by that step.
type Example struct {
	Observation obs.Vector
	Action      control.Control
	Label       float64
}

// TrainableMember extends Member with the operations the trainer needs. All
// mutation happens on clones so the served snapshot is never touched.
type TrainableMember interface {
	Member
	Clone() TrainableMember
	Reinit(rng *rand.Rand)
	Fit(rng *rand.Rand, batch []Example, epochs int, learningRate float64) float64
	Loss(batch []Example) float64
}

// MemberConfig selects the predictor architecture variant at construction
// time. Kind is a closed tag, not a subclass hierarchy.
type MemberConfig struct {
	Kind       string `json:"kind"`
	ObsDim     int    `json:"obs_dim"`
	ControlDim int    `json:"control_dim"`
}

const (
	MemberKindLogistic = "logistic"
)

// NewTrainableMember builds one freshly initialized member for the tagged
// architecture kind.
func NewTrainableMember(cfg MemberConfig, rng *rand.Rand) (TrainableMember, error) {
	if cfg.ObsDim <= 0 || cfg.ControlDim <= 0 {
		return nil, fmt.Errorf("member dims must be > 0: obs=%d control=%d", cfg.ObsDim, cfg.ControlDim)
	}
	switch cfg.Kind {
	case "", MemberKindLogistic:
		m := &LogisticMember{obsDim: cfg.ObsDim, ctrlDim: cfg.ControlDim}
		m.Reinit(rng)
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported predictor member kind: %s", cfg.Kind)
	}
}

// NewEnsembleSnapshot builds the initial snapshot of independently
// initialized members.
func NewEnsembleSnapshot(cfg MemberConfig, numBootstrap int, rng *rand.Rand) (*Snapshot, error) {
	if numBootstrap <= 0 {
		return nil, fmt.Errorf("ensemble size must be > 0")
	}
	members := make([]Member, numBootstrap)
	for i := range members {
		member, err := NewTrainableMember(cfg, rng)
		if err != nil {
			return nil, err
		}
		members[i] = member
	}
	return &Snapshot{Version: 0, CreatedAt: time.Now(), Members: members}, nil
}

// LogisticMember is the reference architecture: a logistic head over the most
// recent observation and the candidate action at each step.
type LogisticMember struct {
	obsDim  int
	ctrlDim int
	wObs    []float64
	wCtrl   []float64
	bias    float64
}

func (m *LogisticMember) StepProbs(history []obs.Vector, actions control.Sequence) ([]float64, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: empty observation history", ErrShapeMismatch)
	}
	last := history[len(history)-1]
	if len(last) != m.obsDim {
		return nil, fmt.Errorf("%w: observation dim %d, member expects %d", ErrShapeMismatch, len(last), m.obsDim)
	}
	probs := make([]float64, len(actions))
	for t, u := range actions {
		if len(u) != m.ctrlDim {
			return nil, fmt.Errorf("%w: control dim %d at step %d, member expects %d", ErrShapeMismatch, len(u), t, m.ctrlDim)
		}
		probs[t] = m.prob(last, u)
	}
	return probs, nil
}

func (m *LogisticMember) prob(o obs.Vector, u control.Control) float64 {
	z := m.bias
	for i := range o {
		z += m.wObs[i] * o[i]
	}
	for i := range u {
		z += m.wCtrl[i] * u[i]
	}
	return sigmoid(z)
}

func (m *LogisticMember) Clone() TrainableMember {
	return &LogisticMember{
		obsDim:  m.obsDim,
		ctrlDim: m.ctrlDim,
		wObs:    append([]float64(nil), m.wObs...),
		wCtrl:   append([]float64(nil), m.wCtrl...),
		bias:    m.bias,
	}
}

func (m *LogisticMember) Reinit(rng *rand.Rand) {
	m.wObs = make([]float64, m.obsDim)
	m.wCtrl = make([]float64, m.ctrlDim)
	scale := 1.0 / math.Sqrt(float64(m.obsDim+m.ctrlDim))
	for i := range m.wObs {
		m.wObs[i] = (rng.Float64()*2 - 1) * scale
	}
	for i := range m.wCtrl {
		m.wCtrl[i] = (rng.Float64()*2 - 1) * scale
	}
	m.bias = 0
}

// Fit runs stochastic gradient descent on the cross-entropy loss and returns
// the final mean loss over the batch.
func (m *LogisticMember) Fit(rng *rand.Rand, batch []Example, epochs int, learningRate float64) float64 {
	if len(batch) == 0 {
		return 0
	}
	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	for e := 0; e < epochs; e++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			ex := batch[idx]
			p := m.prob(ex.Observation, ex.Action)
			grad := p - ex.Label
			for i := range ex.Observation {
				m.wObs[i] -= learningRate * grad * ex.Observation[i]
			}
			for i := range ex.Action {
				m.wCtrl[i] -= learningRate * grad * ex.Action[i]
			}
			m.bias -= learningRate * grad
		}
	}
	return m.Loss(batch)
}

func (m *LogisticMember) Loss(batch []Example) float64 {
	if len(batch) == 0 {
		return 0
	}
	const eps = 1e-12
	total := 0.0
	for _, ex := range batch {
		p := m.prob(ex.Observation, ex.Action)
		total += -ex.Label*math.Log(p+eps) - (1-ex.Label)*math.Log(1-p+eps)
	}
	return total / float64(len(batch))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

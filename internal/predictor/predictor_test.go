package predictor

import (
	"errors"
	"testing"

	"probcoll/internal/control"
	"probcoll/internal/obs"
)

// fixedMember returns the same per-step probabilities on every query.
type fixedMember struct {
	probs []float64
}

func (m *fixedMember) StepProbs(history []obs.Vector, actions control.Sequence) ([]float64, error) {
	out := append([]float64(nil), m.probs...)
	if len(out) > len(actions) {
		out = out[:len(actions)]
	}
	return out, nil
}

func snapshotOf(members ...Member) *Snapshot {
	return &Snapshot{Version: 1, Members: members}
}

func TestPredictAveragesEnsemble(t *testing.T) {
	p, err := New(Config{Horizon: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap := snapshotOf(
		&fixedMember{probs: []float64{0.2, 0.4}},
		&fixedMember{probs: []float64{0.6, 0.8}},
	)

	probs, uncertainty, err := p.Predict([]obs.Vector{{0}}, control.Sequence{{0}, {0}}, snap)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if probs[0] != 0.4 || probs[1] != 0.6 {
		t.Fatalf("unexpected mean probs: %v", probs)
	}
	// Variance of {0.2, 0.6} is 0.04; divided by n=2.
	if diff := uncertainty[0] - 0.02; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected uncertainty: %v", uncertainty)
	}
}

func TestPredictShortSequenceFails(t *testing.T) {
	p, err := New(Config{Horizon: 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap := snapshotOf(&fixedMember{probs: []float64{0.1, 0.1, 0.1, 0.1}})

	_, _, err = p.Predict([]obs.Vector{{0}}, control.Sequence{{0}, {0}}, snap)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestPredictEmptySnapshotFails(t *testing.T) {
	p, err := New(Config{Horizon: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, err := p.Predict([]obs.Vector{{0}}, control.Sequence{{0}}, nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
	if _, _, err := p.Predict([]obs.Vector{{0}}, control.Sequence{{0}}, &Snapshot{}); err == nil {
		t.Fatal("expected error for empty snapshot")
	}
}

func TestStrictlyIncreasingClampsDips(t *testing.T) {
	p, err := New(Config{Horizon: 4, StrictlyIncreasing: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap := snapshotOf(&fixedMember{probs: []float64{0.5, 0.3, 0.7, 0.6}})

	probs, _, err := p.Predict([]obs.Vector{{0}}, control.Sequence{{0}, {0}, {0}, {0}}, snap)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := []float64{0.5, 0.5, 0.7, 0.7}
	for t2, w := range want {
		if probs[t2] != w {
			t.Fatalf("step %d: got=%g want=%g (full: %v)", t2, probs[t2], w, probs)
		}
	}
}

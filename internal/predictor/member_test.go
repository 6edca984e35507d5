package predictor

import (
	"errors"
	"math/rand"
	"testing"

	"probcoll/internal/control"
	"probcoll/internal/obs"
)

func TestNewTrainableMemberValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewTrainableMember(MemberConfig{ObsDim: 0, ControlDim: 2}, rng); err == nil {
		t.Fatal("expected error for zero obs dim")
	}
	if _, err := NewTrainableMember(MemberConfig{Kind: "transformer", ObsDim: 4, ControlDim: 2}, rng); err == nil {
		t.Fatal("expected error for unknown member kind")
	}
}

func TestLogisticMemberShapeChecks(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m, err := NewTrainableMember(MemberConfig{ObsDim: 3, ControlDim: 2}, rng)
	if err != nil {
		t.Fatalf("new member: %v", err)
	}

	if _, err := m.StepProbs(nil, control.Sequence{{0, 0}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for empty history, got %v", err)
	}
	if _, err := m.StepProbs([]obs.Vector{{1, 2}}, control.Sequence{{0, 0}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for wrong obs dim, got %v", err)
	}
	if _, err := m.StepProbs([]obs.Vector{{1, 2, 3}}, control.Sequence{{0}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for wrong control dim, got %v", err)
	}

	probs, err := m.StepProbs([]obs.Vector{{1, 2, 3}}, control.Sequence{{0, 0}, {1, 1}})
	if err != nil {
		t.Fatalf("step probs: %v", err)
	}
	if len(probs) != 2 {
		t.Fatalf("unexpected prob count: %d", len(probs))
	}
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("prob %d outside [0, 1]: %g", i, p)
		}
	}
}

func TestFitSeparatesLabels(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m, err := NewTrainableMember(MemberConfig{ObsDim: 2, ControlDim: 1}, rng)
	if err != nil {
		t.Fatalf("new member: %v", err)
	}

	// Collisions happen at high control magnitude.
	var batch []Example
	for i := 0; i < 50; i++ {
		batch = append(batch,
			Example{Observation: obs.Vector{1, 0}, Action: control.Control{2}, Label: 1},
			Example{Observation: obs.Vector{1, 0}, Action: control.Control{-2}, Label: 0},
		)
	}

	before := m.Loss(batch)
	after := m.Fit(rng, batch, 50, 0.1)
	if after >= before {
		t.Fatalf("training did not reduce loss: before=%g after=%g", before, after)
	}

	hot, err := m.StepProbs([]obs.Vector{{1, 0}}, control.Sequence{{2}})
	if err != nil {
		t.Fatalf("step probs: %v", err)
	}
	cold, err := m.StepProbs([]obs.Vector{{1, 0}}, control.Sequence{{-2}})
	if err != nil {
		t.Fatalf("step probs: %v", err)
	}
	if hot[0] <= cold[0] {
		t.Fatalf("trained member does not separate labels: hot=%g cold=%g", hot[0], cold[0])
	}
}

func TestCloneDoesNotShareWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := NewTrainableMember(MemberConfig{ObsDim: 2, ControlDim: 1}, rng)
	if err != nil {
		t.Fatalf("new member: %v", err)
	}
	clone := m.Clone()

	batch := []Example{{Observation: obs.Vector{1, 1}, Action: control.Control{1}, Label: 1}}
	clone.Fit(rng, batch, 100, 0.5)

	origProbs, _ := m.StepProbs([]obs.Vector{{1, 1}}, control.Sequence{{1}})
	cloneProbs, _ := clone.StepProbs([]obs.Vector{{1, 1}}, control.Sequence{{1}})
	if origProbs[0] == cloneProbs[0] {
		t.Fatalf("fitting the clone changed the original: %g", origProbs[0])
	}
}

func TestNewEnsembleSnapshotMembersDiffer(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	snap, err := NewEnsembleSnapshot(MemberConfig{ObsDim: 4, ControlDim: 2}, 5, rng)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if snap.Version != 0 || len(snap.Members) != 5 {
		t.Fatalf("unexpected snapshot: version=%d members=%d", snap.Version, len(snap.Members))
	}

	history := []obs.Vector{{0.5, -0.5, 1, 0}}
	actions := control.Sequence{{1, 1}}
	first, err := snap.Members[0].StepProbs(history, actions)
	if err != nil {
		t.Fatalf("step probs: %v", err)
	}
	allSame := true
	for _, member := range snap.Members[1:] {
		probs, err := member.StepProbs(history, actions)
		if err != nil {
			t.Fatalf("step probs: %v", err)
		}
		if probs[0] != first[0] {
			allSame = false
		}
	}
	if allSame {
		t.Fatal("independently initialized members all agree")
	}
}

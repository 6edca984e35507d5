package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Condition seeds one episode's initial control state. Immutable once drawn.
type Condition struct {
	VersionedRecord
	ID     string    `json:"id"`
	Index  int       `json:"index"`
	Rep    int       `json:"rep"`
	Values []float64 `json:"values"`
	IsTest bool      `json:"is_test"`
}

// RolloutStep is one (observation, executed action, label) tuple.
type RolloutStep struct {
	Observation []float64 `json:"observation"`
	// Planned is the noise-free action the planner chose; Action is what was
	// actually executed after exploration noise.
	Planned      []float64 `json:"planned"`
	Action       []float64 `json:"action"`
	Collision    bool      `json:"collision"`
	NoiseApplied bool      `json:"noise_applied"`
	SafeFallback bool      `json:"safe_fallback,omitempty"`
}

// Rollout is one completed episode trace. It is append-only while the episode
// runs and immutable after AppendRollout stores it.
type Rollout struct {
	VersionedRecord
	ID        string        `json:"id"`
	CondIndex int           `json:"cond_index"`
	Rep       int           `json:"rep"`
	IsTest    bool          `json:"is_test"`
	Steps     []RolloutStep `json:"steps"`
}

// Collided reports whether the rollout terminated on a collision label.
func (r Rollout) Collided() bool {
	return len(r.Steps) > 0 && r.Steps[len(r.Steps)-1].Collision
}

// SnapshotMeta records one published ensemble snapshot.
type SnapshotMeta struct {
	VersionedRecord
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Members   int       `json:"members"`
	TrainedAt time.Time `json:"trained_at"`
}

// TrainingDiagnostics summarizes one trainer cycle.
type TrainingDiagnostics struct {
	Cycle         int     `json:"cycle"`
	BatchRollouts int     `json:"batch_rollouts"`
	TrainExamples int     `json:"train_examples"`
	TrainLoss     float64 `json:"train_loss"`
	ValLoss       float64 `json:"val_loss"`
	Validated     bool    `json:"validated"`
	Published     bool    `json:"published"`
	Error         string  `json:"error,omitempty"`
}

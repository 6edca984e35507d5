package storage

import (
	"context"

	"probcoll/internal/model"
)

// Store is the rollout log plus training bookkeeping. Rollouts are
// append-only: only completed episodes are ever appended, which is what
// makes every stored rollout eligible for batching.
type Store interface {
	Init(ctx context.Context) error
	AppendRollout(ctx context.Context, rollout model.Rollout) error
	CountRollouts(ctx context.Context) (int, error)
	// RecentRollouts returns up to n of the most recently appended completed
	// rollouts, newest last.
	RecentRollouts(ctx context.Context, n int) ([]model.Rollout, error)
	SaveCondition(ctx context.Context, cond model.Condition) error
	GetCondition(ctx context.Context, id string) (model.Condition, bool, error)
	SaveSnapshotMeta(ctx context.Context, meta model.SnapshotMeta) error
	GetSnapshotMeta(ctx context.Context, id string) (model.SnapshotMeta, bool, error)
	SaveTrainingDiagnostics(ctx context.Context, runID string, diagnostics []model.TrainingDiagnostics) error
	GetTrainingDiagnostics(ctx context.Context, runID string) ([]model.TrainingDiagnostics, bool, error)
}

// Resetter is optionally implemented by stores that can drop all state.
type Resetter interface {
	Reset(ctx context.Context) error
}

package storage

import (
	"context"
	"fmt"
	"sync"

	"probcoll/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	rollouts    []model.Rollout
	rolloutIDs  map[string]struct{}
	conditions  map[string]model.Condition
	snapshots   map[string]model.SnapshotMeta
	diagnostics map[string][]model.TrainingDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.rollouts = nil
	s.rolloutIDs = make(map[string]struct{})
	s.conditions = make(map[string]model.Condition)
	s.snapshots = make(map[string]model.SnapshotMeta)
	s.diagnostics = make(map[string][]model.TrainingDiagnostics)
	return nil
}

func (s *MemoryStore) AppendRollout(_ context.Context, rollout model.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rollout.ID == "" {
		return fmt.Errorf("rollout id is required")
	}
	if _, exists := s.rolloutIDs[rollout.ID]; exists {
		return fmt.Errorf("rollout already stored: %s", rollout.ID)
	}
	copied := rollout
	copied.Steps = append([]model.RolloutStep(nil), rollout.Steps...)
	s.rollouts = append(s.rollouts, copied)
	s.rolloutIDs[rollout.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) CountRollouts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rollouts), nil
}

func (s *MemoryStore) RecentRollouts(_ context.Context, n int) ([]model.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.rollouts) == 0 {
		return nil, nil
	}
	start := len(s.rollouts) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.Rollout, 0, len(s.rollouts)-start)
	for _, rollout := range s.rollouts[start:] {
		copied := rollout
		copied.Steps = append([]model.RolloutStep(nil), rollout.Steps...)
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) SaveCondition(_ context.Context, cond model.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conditions[cond.ID] = cond
	return nil
}

func (s *MemoryStore) GetCondition(_ context.Context, id string) (model.Condition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, ok := s.conditions[id]
	return cond, ok, nil
}

func (s *MemoryStore) SaveSnapshotMeta(_ context.Context, meta model.SnapshotMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[meta.ID] = meta
	return nil
}

func (s *MemoryStore) GetSnapshotMeta(_ context.Context, id string) (model.SnapshotMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.snapshots[id]
	return meta, ok, nil
}

func (s *MemoryStore) SaveTrainingDiagnostics(_ context.Context, runID string, diagnostics []model.TrainingDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.TrainingDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetTrainingDiagnostics(_ context.Context, runID string) ([]model.TrainingDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TrainingDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"probcoll/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) AppendRollout(ctx context.Context, rollout model.Rollout) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if rollout.ID == "" {
		return errors.New("rollout id is required")
	}

	payload, err := EncodeRollout(rollout)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO rollouts (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
	`, rollout.ID, rollout.SchemaVersion, rollout.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) CountRollouts(ctx context.Context) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rollouts`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) RecentRollouts(ctx context.Context, n int) ([]model.Rollout, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT payload FROM (
			SELECT rowid, payload FROM rollouts ORDER BY rowid DESC LIMIT ?
		) ORDER BY rowid ASC
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Rollout
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rollout, err := DecodeRollout(payload)
		if err != nil {
			return nil, fmt.Errorf("decode rollout: %w", err)
		}
		out = append(out, rollout)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCondition(ctx context.Context, cond model.Condition) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCondition(cond)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO conditions (id, payload)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload
	`, cond.ID, payload)
	return err
}

func (s *SQLiteStore) GetCondition(ctx context.Context, id string) (model.Condition, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Condition{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM conditions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Condition{}, false, nil
		}
		return model.Condition{}, false, err
	}

	cond, err := DecodeCondition(payload)
	if err != nil {
		return model.Condition{}, false, fmt.Errorf("decode condition %s: %w", id, err)
	}
	return cond, true, nil
}

func (s *SQLiteStore) SaveSnapshotMeta(ctx context.Context, meta model.SnapshotMeta) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSnapshotMeta(meta)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshots (id, payload)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload
	`, meta.ID, payload)
	return err
}

func (s *SQLiteStore) GetSnapshotMeta(ctx context.Context, id string) (model.SnapshotMeta, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SnapshotMeta{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SnapshotMeta{}, false, nil
		}
		return model.SnapshotMeta{}, false, err
	}

	meta, err := DecodeSnapshotMeta(payload)
	if err != nil {
		return model.SnapshotMeta{}, false, fmt.Errorf("decode snapshot meta %s: %w", id, err)
	}
	return meta, true, nil
}

func (s *SQLiteStore) SaveTrainingDiagnostics(ctx context.Context, runID string, diagnostics []model.TrainingDiagnostics) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTrainingDiagnostics(diagnostics)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO diagnostics (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetTrainingDiagnostics(ctx context.Context, runID string) ([]model.TrainingDiagnostics, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM diagnostics WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	diagnostics, err := DecodeTrainingDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rollouts (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conditions (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS diagnostics (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}

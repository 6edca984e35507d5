package storage

import (
	"encoding/json"
	"errors"

	"probcoll/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRollout(r model.Rollout) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRollout(data []byte) (model.Rollout, error) {
	var rollout model.Rollout
	if err := json.Unmarshal(data, &rollout); err != nil {
		return model.Rollout{}, err
	}
	if err := checkVersion(rollout.VersionedRecord); err != nil {
		return model.Rollout{}, err
	}
	return rollout, nil
}

func EncodeCondition(c model.Condition) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCondition(data []byte) (model.Condition, error) {
	var cond model.Condition
	if err := json.Unmarshal(data, &cond); err != nil {
		return model.Condition{}, err
	}
	if err := checkVersion(cond.VersionedRecord); err != nil {
		return model.Condition{}, err
	}
	return cond, nil
}

func EncodeSnapshotMeta(m model.SnapshotMeta) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeSnapshotMeta(data []byte) (model.SnapshotMeta, error) {
	var meta model.SnapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return model.SnapshotMeta{}, err
	}
	if err := checkVersion(meta.VersionedRecord); err != nil {
		return model.SnapshotMeta{}, err
	}
	return meta, nil
}

func EncodeTrainingDiagnostics(diagnostics []model.TrainingDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeTrainingDiagnostics(data []byte) ([]model.TrainingDiagnostics, error) {
	var diagnostics []model.TrainingDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

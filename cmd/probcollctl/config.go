package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"probcoll/internal/condition"
	probapi "probcoll/pkg/probcoll"
)

func loadRunRequestFromConfig(path string) (probapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return probapi.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return probapi.RunRequest{}, err
	}

	var req probapi.RunRequest
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asFloat64Slice(raw["control_lower"]); ok {
		req.ControlLower = v
	}
	if v, ok := asFloat64Slice(raw["control_upper"]); ok {
		req.ControlUpper = v
	}
	if v, ok := asInt(raw["horizon"]); ok {
		req.Horizon = v
	}
	if v, ok := asInt(raw["plan_horizon"]); ok {
		req.PlanHorizon = v
	}
	if v, ok := asInt(raw["dt_ms"]); ok {
		req.DT = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["history_len"]); ok {
		req.HistoryLen = v
	}
	if v, ok := asFloat64Slice(raw["safe_action"]); ok {
		req.SafeAction = v
	}
	if v, ok := asInt(raw["max_episodes"]); ok {
		req.MaxEpisodes = v
	}
	if v, ok := asBool(raw["degrade_on_overrun"]); ok {
		req.DegradeOnOverrun = v
	}

	if v, ok := asFloat64Slice(raw["condition_defaults"]); ok {
		req.ConditionDefaults = v
	}
	if ranges, ok := raw["condition_ranges"].([]any); ok {
		for _, item := range ranges {
			entry, ok := item.(map[string]any)
			if !ok {
				return probapi.RunRequest{}, fmt.Errorf("condition_ranges entries must be objects")
			}
			var r condition.DimensionRange
			if v, ok := asFloat64(entry["min"]); ok {
				r.Min = v
			}
			if v, ok := asFloat64(entry["max"]); ok {
				r.Max = v
			}
			if v, ok := asInt(entry["num_bins"]); ok {
				r.NumBins = v
			}
			req.ConditionRanges = append(req.ConditionRanges, r)
		}
	}
	if v, ok := asFloat64Slice(raw["condition_perturbations"]); ok {
		req.ConditionPerturbations = v
	}
	if v, ok := asInt(raw["condition_repeats"]); ok {
		req.ConditionRepeats = v
	}
	if v, ok := asBool(raw["condition_randomize_conds"]); ok {
		req.ConditionRandomizeConds = v
	}
	if v, ok := asBool(raw["condition_randomize_reps"]); ok {
		req.ConditionRandomizeReps = v
	}
	if v, ok := asInt(raw["condition_test_every"]); ok {
		req.ConditionTestEvery = v
	}

	if v, ok := asString(raw["planner"]); ok {
		req.PlannerType = v
	}
	if v, ok := asInt(raw["num_candidates"]); ok {
		req.NumCandidates = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asFloat64Slice(raw["steers"]); ok {
		req.Steers = v
	}
	if v, ok := asFloat64Slice(raw["speeds"]); ok {
		req.Speeds = v
	}
	if v, ok := asInt(raw["num_splits"]); ok {
		req.NumSplits = v
	}
	if v, ok := asInt(raw["init_m"]); ok {
		req.InitM = v
	}
	if v, ok := asInt(raw["m"]); ok {
		req.M = v
	}
	if v, ok := asInt(raw["k"]); ok {
		req.K = v
	}
	if v, ok := asInt(raw["num_iters"]); ok {
		req.NumIters = &v
	}

	if v, ok := asFloat64(raw["coll_weight"]); ok {
		req.CollWeight = &v
	}
	if v, ok := asFloat64Slice(raw["control_weights"]); ok {
		req.ControlWeights = v
	}
	if v, ok := asFloat64Slice(raw["desired_control"]); ok {
		req.DesiredControl = v
	}

	if v, ok := asFloat64(raw["epsilon_start"]); ok {
		req.EpsilonStart = v
	}
	if v, ok := asFloat64(raw["epsilon_end"]); ok {
		req.EpsilonEnd = v
	}
	if v, ok := asString(raw["noise"]); ok {
		req.Noise = v
	}
	if v, ok := asFloat64Slice(raw["gaussian_std"]); ok {
		req.GaussianStd = v
	}
	if v, ok := asFloat64Slice(raw["uniform_lower"]); ok {
		req.UniformLower = v
	}
	if v, ok := asFloat64Slice(raw["uniform_upper"]); ok {
		req.UniformUpper = v
	}
	if v, ok := asFloat64(raw["ou_theta"]); ok {
		req.OUTheta = v
	}
	if v, ok := asFloat64(raw["ou_sigma"]); ok {
		req.OUSigma = v
	}
	if v, ok := asFloat64Slice(raw["exploration_lower"]); ok {
		req.ExplorationLower = v
	}
	if v, ok := asFloat64Slice(raw["exploration_upper"]); ok {
		req.ExplorationUpper = v
	}

	if v, ok := asInt(raw["members"]); ok {
		req.Members = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asFloat64(raw["val_pct"]); ok {
		req.ValPct = v
	}
	if v, ok := asInt(raw["val_freq"]); ok {
		req.ValFreq = v
	}
	if v, ok := asInt(raw["val_steps"]); ok {
		req.ValSteps = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asBool(raw["reset_every_train"]); ok {
		req.ResetEveryTrain = v
	}
	if v, ok := asBool(raw["label_with_noise"]); ok {
		req.LabelWithNoise = v
	}
	if v, ok := asInt(raw["train_every_ms"]); ok {
		req.TrainEvery = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(raw["min_new_rollouts"]); ok {
		req.MinNewRollouts = v
	}
	if v, ok := asBool(raw["strictly_increasing"]); ok {
		req.StrictlyIncreasing = v
	}

	return req, nil
}

func loadOrDefaultRunRequest(configPath string) (probapi.RunRequest, error) {
	if configPath == "" {
		return probapi.RunRequest{}, nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return probapi.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloat64Slice(v any) ([]float64, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

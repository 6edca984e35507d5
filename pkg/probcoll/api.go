package probcoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"probcoll/internal/condition"
	"probcoll/internal/control"
	"probcoll/internal/cost"
	"probcoll/internal/episode"
	"probcoll/internal/exploration"
	"probcoll/internal/model"
	"probcoll/internal/obs"
	"probcoll/internal/planner"
	"probcoll/internal/platform"
	"probcoll/internal/predictor"
	"probcoll/internal/storage"
	"probcoll/internal/trainer"
)

const defaultDBPath = "probcoll.db"

type Options struct {
	StoreKind string
	DBPath    string
	Logger    *slog.Logger
}

// Client is the embedding surface: construct once, run planning-and-training
// sessions against a caller-supplied observation source and actuation sink.
type Client struct {
	store  storage.Store
	logger *slog.Logger
}

// RunRequest carries one full session configuration. Zero values get the
// defaults documented inline in Run.
type RunRequest struct {
	Seed int64

	ControlLower []float64
	ControlUpper []float64
	ObsSegments  []obs.Segment

	Horizon     int
	PlanHorizon int
	DT          time.Duration
	HistoryLen  int
	SafeAction  []float64
	MaxEpisodes int

	DegradeOnOverrun bool

	ConditionDefaults       []float64
	ConditionRanges         []condition.DimensionRange
	ConditionPerturbations  []float64
	ConditionRepeats        int
	ConditionRandomizeConds bool
	ConditionRandomizeReps  bool
	ConditionTestEvery      int

	PlannerType   string
	NumCandidates int
	Workers       int
	Steers        []float64
	Speeds        []float64
	NumSplits     int
	InitM         int
	M             int
	K             int
	// NumIters is a pointer so an explicit 0 (one sampling round, no
	// refitting) survives defaulting.
	NumIters *int

	// CollWeight is a pointer so an explicit 0 (staged training with the
	// collision term disabled) survives defaulting.
	CollWeight     *float64
	ControlWeights []float64
	DesiredControl []float64

	EpsilonStart float64
	EpsilonEnd   float64
	Noise        string
	GaussianStd  []float64
	UniformLower []float64
	UniformUpper []float64
	OUTheta      float64
	OUSigma      float64

	ExplorationLower []float64
	ExplorationUpper []float64

	Members         int
	BatchSize       int
	ValPct          float64
	ValFreq         int
	ValSteps        int
	Epochs          int
	LearningRate    float64
	ResetEveryTrain bool
	LabelWithNoise  bool
	TrainEvery      time.Duration
	MinNewRollouts  int

	StrictlyIncreasing bool
}

// Result summarizes one finished session.
type Result struct {
	Episodes      int
	Collisions    int
	SafeFallbacks int
	Snapshot      int
	Diagnostics   []model.TrainingDiagnostics
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Store() storage.Store {
	return c.store
}

// Run drives a full session to completion: MaxEpisodes episodes with the
// trainer publishing snapshots concurrently. It blocks until the episode
// loop finishes or the context is canceled.
func (c *Client) Run(ctx context.Context, req RunRequest, source episode.ObservationSource, sink episode.ActuationSink) (Result, error) {
	runtime, err := c.NewRuntime(req, source, sink)
	if err != nil {
		return Result{}, err
	}
	if err := runtime.Init(ctx); err != nil {
		return Result{}, err
	}
	if err := runtime.Start(ctx); err != nil {
		return Result{}, err
	}
	defer runtime.Stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	maxEpisodes := req.MaxEpisodes
	if maxEpisodes <= 0 {
		maxEpisodes = 10
	}
	for runtime.Runner().Episodes() < maxEpisodes {
		select {
		case <-ctx.Done():
			runtime.Stop()
			return c.result(runtime), ctx.Err()
		case <-ticker.C:
		}
	}
	runtime.Stop()
	return c.result(runtime), nil
}

func (c *Client) result(runtime *platform.Runtime) Result {
	version := 0
	if snap := runtime.Handle().Load(); snap != nil {
		version = snap.Version
	}
	return Result{
		Episodes:      runtime.Runner().Episodes(),
		Collisions:    runtime.Runner().Collisions(),
		SafeFallbacks: runtime.Runner().SafeFallbacks(),
		Snapshot:      version,
		Diagnostics:   runtime.Trainer().Diagnostics(),
	}
}

// NewRuntime builds a supervised runtime without starting it, for callers
// that want pause/continue control over the session.
func (c *Client) NewRuntime(req RunRequest, source episode.ObservationSource, sink episode.ActuationSink) (*platform.Runtime, error) {
	cfg, err := c.buildConfig(req, source, sink)
	if err != nil {
		return nil, err
	}
	return platform.NewRuntime(cfg)
}

func (c *Client) buildConfig(req RunRequest, source episode.ObservationSource, sink episode.ActuationSink) (platform.Config, error) {
	if len(req.ControlLower) == 0 || len(req.ControlLower) != len(req.ControlUpper) {
		return platform.Config{}, errors.New("control bounds are required and must have matching dimensions")
	}
	if len(req.ObsSegments) == 0 {
		return platform.Config{}, errors.New("observation segments are required")
	}
	bounds := control.Bounds{
		Lower: append([]float64(nil), req.ControlLower...),
		Upper: append([]float64(nil), req.ControlUpper...),
	}
	dim := bounds.Dim()

	if req.Horizon <= 0 {
		req.Horizon = 100
	}
	if req.PlanHorizon <= 0 {
		req.PlanHorizon = 12
	}
	if req.HistoryLen <= 0 {
		req.HistoryLen = 4
	}
	if req.MaxEpisodes <= 0 {
		req.MaxEpisodes = 10
	}
	if len(req.SafeAction) == 0 {
		req.SafeAction = make([]float64, dim)
		for i := range req.SafeAction {
			req.SafeAction[i] = (bounds.Lower[i] + bounds.Upper[i]) / 2
		}
	}
	if req.PlannerType == "" {
		req.PlannerType = planner.TypeRandom
	}
	if req.NumCandidates <= 0 {
		req.NumCandidates = 128
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.InitM <= 0 {
		req.InitM = 64
	}
	if req.M <= 0 {
		req.M = 32
	}
	if req.K <= 0 {
		req.K = 8
	}
	numIters := 0
	if req.NumIters != nil {
		if *req.NumIters < 0 {
			return platform.Config{}, errors.New("cem iterations must be >= 0")
		}
		numIters = *req.NumIters
	} else if req.PlannerType == planner.TypeCEM {
		numIters = 3
	}
	collWeight := 100.0
	if req.CollWeight != nil {
		collWeight = *req.CollWeight
	}
	if collWeight < 0 {
		return platform.Config{}, errors.New("collision weight must be >= 0")
	}
	if len(req.ControlWeights) == 0 {
		req.ControlWeights = make([]float64, dim)
		for i := range req.ControlWeights {
			req.ControlWeights[i] = 1
		}
	}
	if len(req.DesiredControl) == 0 {
		req.DesiredControl = append([]float64(nil), req.SafeAction...)
	}
	if req.Members <= 0 {
		req.Members = 5
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 32
	}
	if req.Epochs <= 0 {
		req.Epochs = 10
	}
	if req.LearningRate <= 0 {
		req.LearningRate = 0.01
	}
	if req.TrainEvery <= 0 {
		req.TrainEvery = 200 * time.Millisecond
	}
	if req.ConditionRepeats <= 0 {
		req.ConditionRepeats = 1
	}
	if len(req.ConditionDefaults) == 0 && len(req.ConditionRanges) == 0 {
		req.ConditionDefaults = []float64{0}
	}

	layout, err := buildLayout(req.ObsSegments)
	if err != nil {
		return platform.Config{}, err
	}

	explorationBounds := bounds
	if len(req.ExplorationLower) > 0 || len(req.ExplorationUpper) > 0 {
		if len(req.ExplorationLower) != dim || len(req.ExplorationUpper) != dim {
			return platform.Config{}, errors.New("exploration bounds must match control dimensions")
		}
		explorationBounds = control.Bounds{
			Lower: append([]float64(nil), req.ExplorationLower...),
			Upper: append([]float64(nil), req.ExplorationUpper...),
		}
	}

	obsDim := layout.TotalDim

	return platform.Config{
		Store:  c.store,
		Seed:   req.Seed,
		Logger: c.logger,
		Conditions: condition.Spec{
			Defaults:       req.ConditionDefaults,
			Ranges:         req.ConditionRanges,
			Perturbations:  req.ConditionPerturbations,
			Repeats:        req.ConditionRepeats,
			RandomizeConds: req.ConditionRandomizeConds,
			RandomizeReps:  req.ConditionRandomizeReps,
			TestEvery:      req.ConditionTestEvery,
		},
		Predictor: predictor.Config{
			Horizon:            req.PlanHorizon,
			StrictlyIncreasing: req.StrictlyIncreasing,
		},
		Cost: cost.Config{
			CollWeight:  collWeight,
			CtrlWeights: req.ControlWeights,
			Desired:     req.DesiredControl,
		},
		Planner: planner.Config{
			Type:          req.PlannerType,
			Bounds:        bounds,
			Workers:       req.Workers,
			NumCandidates: req.NumCandidates,
			Steers:        req.Steers,
			Speeds:        req.Speeds,
			NumSplits:     req.NumSplits,
			InitM:         req.InitM,
			M:             req.M,
			K:             req.K,
			NumIters:      numIters,
		},
		Exploration: exploration.Config{
			Bounds:            bounds,
			ExplorationBounds: explorationBounds,
			EpsilonBounds:     [2]float64{req.EpsilonStart, req.EpsilonEnd},
			Noise:             exploration.NoiseType(req.Noise),
			GaussianStd:       req.GaussianStd,
			UniformLower:      req.UniformLower,
			UniformUpper:      req.UniformUpper,
			OUTheta:           req.OUTheta,
			OUSigma:           req.OUSigma,
		},
		Episode: episode.Config{
			Horizon:          req.Horizon,
			PlanHorizon:      req.PlanHorizon,
			DT:               req.DT,
			Bounds:           bounds,
			Layout:           layout,
			HistoryLen:       req.HistoryLen,
			SafeAction:       req.SafeAction,
			MaxEpisodes:      req.MaxEpisodes,
			DegradeOnOverrun: req.DegradeOnOverrun,
		},
		Trainer: trainer.Config{
			Member: predictor.MemberConfig{
				Kind:       predictor.MemberKindLogistic,
				ObsDim:     obsDim,
				ControlDim: dim,
			},
			Members:         req.Members,
			BatchSize:       req.BatchSize,
			ValPct:          req.ValPct,
			ValFreq:         req.ValFreq,
			ValSteps:        req.ValSteps,
			Epochs:          req.Epochs,
			LearningRate:    req.LearningRate,
			ResetEveryTrain: req.ResetEveryTrain,
			LabelWithNoise:  req.LabelWithNoise,
			LabelHorizon:    req.PlanHorizon,
			TrainEvery:      req.TrainEvery,
			MinNewRollouts:  req.MinNewRollouts,
		},
		Source:    source,
		Sink:      sink,
		WarmStart: true,
	}, nil
}

// buildLayout assigns contiguous offsets to the requested segments in order.
func buildLayout(segments []obs.Segment) (obs.Layout, error) {
	offset := 0
	laidOut := make([]obs.Segment, len(segments))
	for i, seg := range segments {
		if seg.Dim <= 0 {
			return obs.Layout{}, fmt.Errorf("segment %q must have dim > 0", seg.Name)
		}
		laidOut[i] = obs.Segment{Name: seg.Name, Offset: offset, Dim: seg.Dim}
		offset += seg.Dim
	}
	layout := obs.Layout{TotalDim: offset, Segments: laidOut}
	if err := layout.Validate(); err != nil {
		return obs.Layout{}, err
	}
	return layout, nil
}

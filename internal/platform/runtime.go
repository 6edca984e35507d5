package platform

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"probcoll/internal/condition"
	"probcoll/internal/cost"
	"probcoll/internal/episode"
	"probcoll/internal/exploration"
	"probcoll/internal/planner"
	"probcoll/internal/predictor"
	"probcoll/internal/storage"
	"probcoll/internal/trainer"
)

const (
	taskControlLoop = "control-loop"
	taskTrainer     = "trainer"
)

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// Config assembles one full run: data log, condition schedule, predictor,
// planner, exploration policy, episode loop and trainer.
type Config struct {
	Store      storage.Store
	Seed       int64
	Logger     *slog.Logger
	Supervisor SupervisorPolicy

	Conditions  condition.Spec
	Predictor   predictor.Config
	Cost        cost.Config
	Planner     planner.Config
	Exploration exploration.Config
	Episode     episode.Config
	Trainer     trainer.Config

	Source episode.ObservationSource
	Sink   episode.ActuationSink

	// WarmStart publishes an untrained ensemble before the first episode so
	// the planner always has a snapshot to read.
	WarmStart bool
}

// Runtime owns the two long-running tasks of a run. The control loop and the
// trainer share only the snapshot handle and the append-only data log, so
// either side can fail and restart without corrupting the other.
type Runtime struct {
	cfg    Config
	store  storage.Store
	logger *slog.Logger

	handle  *predictor.Handle
	runner  *episode.Runner
	coord   *trainer.Coordinator
	workers *Supervisor

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
}

func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Source == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("observation source and actuation sink are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handle := predictor.NewHandle(nil)
	pred, err := predictor.New(cfg.Predictor)
	if err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	evaluator, err := cost.New(cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}

	// The loop, planner and trainer each get an independent stream derived
	// from the run seed, so their draws never interleave.
	plannerRNG := rand.New(rand.NewSource(cfg.Seed))
	loopRNG := rand.New(rand.NewSource(cfg.Seed + 1))
	condRNG := rand.New(rand.NewSource(cfg.Seed + 2))
	trainRNG := rand.New(rand.NewSource(cfg.Seed + 3))

	pl, err := planner.New(cfg.Planner, pred, evaluator, plannerRNG)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	policy, err := exploration.NewPolicy(cfg.Exploration)
	if err != nil {
		return nil, fmt.Errorf("exploration: %w", err)
	}
	conds, err := condition.NewManager(cfg.Conditions, condRNG)
	if err != nil {
		return nil, fmt.Errorf("conditions: %w", err)
	}

	runner, err := episode.NewRunner(cfg.Episode, pl, policy, handle,
		cfg.Source, cfg.Sink, cfg.Store, conds, loopRNG, logger)
	if err != nil {
		return nil, fmt.Errorf("episode runner: %w", err)
	}
	coord, err := trainer.New(cfg.Trainer, cfg.Store, handle, trainRNG, logger)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	return &Runtime{
		cfg:            cfg,
		store:          cfg.Store,
		logger:         logger,
		handle:         handle,
		runner:         runner,
		coord:          coord,
		lastStopReason: StopReasonNormal,
	}, nil
}

// Handle exposes the live snapshot handle, primarily for inspection.
func (r *Runtime) Handle() *predictor.Handle {
	return r.handle
}

func (r *Runtime) Runner() *episode.Runner {
	return r.runner
}

func (r *Runtime) Trainer() *trainer.Coordinator {
	return r.coord
}

// Init prepares storage and, when configured, publishes the warm-start
// snapshot.
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.store.Init(ctx); err != nil {
		return err
	}
	if r.cfg.WarmStart && r.handle.Load() == nil {
		rng := rand.New(rand.NewSource(r.cfg.Seed + 4))
		snapshot, err := predictor.NewEnsembleSnapshot(r.cfg.Trainer.Member, r.cfg.Trainer.Members, rng)
		if err != nil {
			return fmt.Errorf("warm start: %w", err)
		}
		r.handle.Publish(snapshot)
	}
	r.started = true
	return nil
}

// Start launches the control loop and trainer under supervision. Each task
// restarts independently with backoff on failure.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.workers != nil {
		r.mu.Unlock()
		return fmt.Errorf("runtime already running")
	}
	workers := NewSupervisorWithHooks(r.cfg.Supervisor, SupervisorHooks{
		OnTaskRestart: func(name string, err error, restartCount int) {
			r.logger.Warn("task restarted", "task", name, "restarts", restartCount, "err", err)
		},
		OnTaskPermanentFailure: func(name string, err error, restartCount int) {
			r.logger.Error("task permanently failed", "task", name, "restarts", restartCount, "err", err)
		},
	})
	r.workers = workers
	r.mu.Unlock()

	if err := workers.StartSpec(SupervisorChildSpec{
		Name:    taskControlLoop,
		Restart: SupervisorRestartTransient,
	}, r.runner.Run); err != nil {
		return err
	}
	if err := workers.StartSpec(SupervisorChildSpec{
		Name:    taskTrainer,
		Restart: SupervisorRestartPermanent,
	}, r.coord.Run); err != nil {
		workers.StopAll()
		r.mu.Lock()
		r.workers = nil
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Runtime) Pause() error {
	return r.sendCommand(episode.CommandPause)
}

func (r *Runtime) Continue() error {
	return r.sendCommand(episode.CommandContinue)
}

func (r *Runtime) sendCommand(cmd episode.Command) error {
	r.mu.RLock()
	running := r.workers != nil
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("runtime is not running")
	}
	select {
	case r.runner.Control() <- cmd:
		return nil
	default:
		return fmt.Errorf("control channel is full")
	}
}

func (r *Runtime) Stop() {
	r.StopWithReason(StopReasonNormal)
}

func (r *Runtime) Shutdown() {
	r.StopWithReason(StopReasonShutdown)
}

// StopWithReason stops both tasks and waits for them to exit. The data log
// stays open so a later Start resumes from the persisted rollouts.
func (r *Runtime) StopWithReason(reason StopReason) {
	if reason == "" {
		reason = StopReasonNormal
	}

	r.mu.Lock()
	workers := r.workers
	r.workers = nil
	r.lastStopReason = reason
	r.mu.Unlock()

	if workers == nil {
		return
	}
	select {
	case r.runner.Control() <- episode.CommandStop:
	default:
	}
	workers.StopAll()
}

// Reset stops the run, clears the data log when the store supports it, and
// re-initializes.
func (r *Runtime) Reset(ctx context.Context) error {
	r.StopWithReason(StopReasonShutdown)
	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	if resetter, ok := r.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return r.Init(ctx)
}

func (r *Runtime) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers != nil
}

func (r *Runtime) LastStopReason() StopReason {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStopReason
}

// Tasks reports the names of the currently supervised tasks.
func (r *Runtime) Tasks() []string {
	r.mu.RLock()
	workers := r.workers
	r.mu.RUnlock()
	if workers == nil {
		return nil
	}
	return workers.Tasks()
}

// Children reports per-task supervision status.
func (r *Runtime) Children() []SupervisorChildStatus {
	r.mu.RLock()
	workers := r.workers
	r.mu.RUnlock()
	if workers == nil {
		return nil
	}
	return workers.Children()
}

package episode

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"probcoll/internal/condition"
	"probcoll/internal/control"
	"probcoll/internal/exploration"
	"probcoll/internal/model"
	"probcoll/internal/obs"
	"probcoll/internal/planner"
	"probcoll/internal/predictor"
	"probcoll/internal/storage"
)

// ObservationSource is the external observation feed: one structured vector
// per timestep matching the declared segment layout.
type ObservationSource interface {
	Observe(ctx context.Context) (obs.Vector, error)
}

// ActuationSink accepts one control vector per timestep, already clipped to
// bounds. An execution error forces the safe-default path.
type ActuationSink interface {
	Execute(ctx context.Context, u control.Control) error
}

// Command steers a running episode loop.
type Command string

const (
	CommandPause    Command = "pause"
	CommandContinue Command = "continue"
	CommandStop     Command = "stop"
)

// Config parameterizes the per-timestep control loop.
type Config struct {
	Horizon     int
	PlanHorizon int
	DT          time.Duration
	Bounds      control.Bounds
	Layout      obs.Layout
	HistoryLen  int
	SafeAction  control.Control
	MaxEpisodes int

	// DegradeOnOverrun halves the planner's candidate budget when a cycle
	// misses the DT deadline instead of letting the loop drift; the budget
	// recovers once cycles fit again.
	DegradeOnOverrun bool
	MinBudgetScale   float64
}

// Runner drives plan -> explore -> act -> observe -> log for each episode and
// hands completed rollouts to the training log.
type Runner struct {
	cfg     Config
	planner planner.Planner
	policy  *exploration.Policy
	handle  *predictor.Handle
	source  ObservationSource
	sink    ActuationSink
	store   storage.Store
	conds   *condition.Manager
	rng     *rand.Rand
	logger  *slog.Logger
	control chan Command

	mu          sync.Mutex
	budgetScale float64
	episodes    int
	collisions  int
	fallbacks   int
}

func NewRunner(cfg Config, pl planner.Planner, policy *exploration.Policy, handle *predictor.Handle,
	source ObservationSource, sink ActuationSink, store storage.Store, conds *condition.Manager,
	rng *rand.Rand, logger *slog.Logger) (*Runner, error) {
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("episode horizon must be > 0")
	}
	if cfg.PlanHorizon <= 0 || cfg.PlanHorizon > cfg.Horizon {
		cfg.PlanHorizon = cfg.Horizon
	}
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.SafeAction) != cfg.Bounds.Dim() {
		return nil, fmt.Errorf("safe action dimension mismatch: got=%d want=%d", len(cfg.SafeAction), cfg.Bounds.Dim())
	}
	if !cfg.Bounds.Contains(cfg.SafeAction) {
		return nil, fmt.Errorf("safe action outside control bounds")
	}
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = 1
	}
	if cfg.MinBudgetScale <= 0 || cfg.MinBudgetScale > 1 {
		cfg.MinBudgetScale = 0.125
	}
	if pl == nil || policy == nil || handle == nil || source == nil || sink == nil || store == nil || conds == nil || rng == nil {
		return nil, fmt.Errorf("planner, policy, handle, source, sink, store, conditions and rng are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		planner:     pl,
		policy:      policy,
		handle:      handle,
		source:      source,
		sink:        sink,
		store:       store,
		conds:       conds,
		rng:         rng,
		logger:      logger,
		control:     make(chan Command, 16),
		budgetScale: 1.0,
	}, nil
}

// Control returns the command channel steering the episode loop.
func (r *Runner) Control() chan<- Command {
	return r.control
}

func (r *Runner) Episodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.episodes
}

func (r *Runner) Collisions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collisions
}

func (r *Runner) SafeFallbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacks
}

// Run executes episodes until MaxEpisodes completes, a stop command arrives,
// or the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if r.cfg.MaxEpisodes > 0 && r.Episodes() >= r.cfg.MaxEpisodes {
			return nil
		}
		if stop, err := r.handleCommands(ctx); stop || err != nil {
			return err
		}

		cond, err := r.conds.Next()
		if err != nil {
			return err
		}
		if err := r.store.SaveCondition(ctx, withVersions(cond)); err != nil {
			r.logger.Warn("save condition failed", "err", err)
		}

		rollout, err := r.RunEpisode(ctx, cond)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Episodes interrupted by boundary failures are repeated, not
			// logged, so the training log only ever holds full rollouts.
			r.logger.Warn("episode aborted", "cond", cond.Index, "rep", cond.Rep, "err", err)
			continue
		}
		if err := r.store.AppendRollout(ctx, rollout); err != nil {
			r.logger.Warn("append rollout failed", "rollout", rollout.ID, "err", err)
			continue
		}

		r.mu.Lock()
		r.episodes++
		if rollout.Collided() {
			r.collisions++
		}
		r.mu.Unlock()
	}
}

// handleCommands drains pending control commands; a pause blocks until
// continue or stop.
func (r *Runner) handleCommands(ctx context.Context) (stop bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case cmd := <-r.control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandPause:
				for {
					select {
					case <-ctx.Done():
						return true, nil
					case next := <-r.control:
						if next == CommandStop {
							return true, nil
						}
						if next == CommandContinue {
							return false, nil
						}
					}
				}
			}
		default:
			return false, nil
		}
	}
}

// RunEpisode runs one condition for up to Horizon timesteps, stopping early
// on a collision label. The returned rollout has length k+1 when the
// collision is observed at step k.
func (r *Runner) RunEpisode(ctx context.Context, cond model.Condition) (model.Rollout, error) {
	r.policy.Reset()

	current, err := r.source.Observe(ctx)
	if err != nil {
		return model.Rollout{}, fmt.Errorf("initial observation: %w", err)
	}
	if err := r.cfg.Layout.CheckVector(current); err != nil {
		return model.Rollout{}, err
	}

	history := []obs.Vector{current}
	// The condition draw seeds the initial control state; the safe action
	// covers conditions of a different dimensionality.
	lastAction := r.cfg.SafeAction.Clone()
	if len(cond.Values) == r.cfg.Bounds.Dim() {
		lastAction = r.cfg.Bounds.Clip(control.Control(cond.Values))
	}
	steps := make([]model.RolloutStep, 0, r.cfg.Horizon)

	for t := 0; t < r.cfg.Horizon; t++ {
		if err := ctx.Err(); err != nil {
			return model.Rollout{}, err
		}
		cycleStart := time.Now()

		snapshot := r.handle.Load()
		planned, safeFallback := lastAction, false
		sequence, planErr := r.planner.Plan(ctx, history, snapshot, r.cfg.PlanHorizon)
		if planErr != nil {
			if ctx.Err() != nil {
				return model.Rollout{}, ctx.Err()
			}
			// Hold the last executed action rather than crash the loop.
			safeFallback = true
			r.mu.Lock()
			r.fallbacks++
			r.mu.Unlock()
			r.logger.Warn("planning failed, holding safe action", "t", t, "err", planErr)
		} else {
			planned = sequence[0]
		}

		progress := 0.0
		if r.cfg.Horizon > 1 {
			progress = float64(t) / float64(r.cfg.Horizon-1)
		}
		action, noisy := r.policy.Explore(r.rng, planned, progress)

		if err := r.sink.Execute(ctx, action); err != nil {
			if ctx.Err() != nil {
				return model.Rollout{}, ctx.Err()
			}
			safeFallback = true
			action = r.cfg.SafeAction.Clone()
			r.mu.Lock()
			r.fallbacks++
			r.mu.Unlock()
			r.logger.Warn("actuation failed, executing safe action", "t", t, "err", err)
			_ = r.sink.Execute(ctx, action)
		}

		next, err := r.source.Observe(ctx)
		if err != nil {
			return model.Rollout{}, fmt.Errorf("observation at step %d: %w", t, err)
		}
		if err := r.cfg.Layout.CheckVector(next); err != nil {
			return model.Rollout{}, err
		}
		collided, err := r.cfg.Layout.Collision(next)
		if err != nil {
			return model.Rollout{}, err
		}

		steps = append(steps, model.RolloutStep{
			Observation:  append([]float64(nil), current...),
			Planned:      append([]float64(nil), planned...),
			Action:       append([]float64(nil), action...),
			Collision:    collided,
			NoiseApplied: noisy,
			SafeFallback: safeFallback,
		})

		lastAction = action
		current = next
		history = append(history, current)
		if len(history) > r.cfg.HistoryLen {
			history = history[len(history)-r.cfg.HistoryLen:]
		}

		r.pace(ctx, cycleStart)

		if collided {
			break
		}
	}

	return model.Rollout{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:        uuid.NewString(),
		CondIndex: cond.Index,
		Rep:       cond.Rep,
		IsTest:    cond.IsTest,
		Steps:     steps,
	}, nil
}

// pace enforces the soft real-time timestep and, when configured, trades
// candidate count for latency instead of missing the deadline.
func (r *Runner) pace(ctx context.Context, cycleStart time.Time) {
	if r.cfg.DT <= 0 {
		return
	}
	elapsed := time.Since(cycleStart)
	if r.cfg.DegradeOnOverrun {
		adjustable, ok := r.planner.(planner.BudgetAdjustable)
		if ok {
			r.mu.Lock()
			if elapsed > r.cfg.DT {
				r.budgetScale /= 2
				if r.budgetScale < r.cfg.MinBudgetScale {
					r.budgetScale = r.cfg.MinBudgetScale
				}
			} else if r.budgetScale < 1.0 {
				r.budgetScale *= 2
				if r.budgetScale > 1.0 {
					r.budgetScale = 1.0
				}
			}
			scale := r.budgetScale
			r.mu.Unlock()
			adjustable.SetBudgetScale(scale)
		}
	}
	if remaining := r.cfg.DT - elapsed; remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func withVersions(cond model.Condition) model.Condition {
	cond.SchemaVersion = storage.CurrentSchemaVersion
	cond.CodecVersion = storage.CurrentCodecVersion
	return cond
}

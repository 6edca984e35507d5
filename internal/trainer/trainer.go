package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"probcoll/internal/model"
	"probcoll/internal/predictor"
	"probcoll/internal/storage"
)

// ErrTrainingFailure marks a failed training cycle. The in-progress snapshot
// build is discarded, the previously served snapshot stays live, and the
// cycle is retried on the next trigger.
var ErrTrainingFailure = errors.New("training failure")

// State is the coordinator's position in its per-cycle state machine.
type State string

const (
	StateIdle       State = "idle"
	StateBatching   State = "batching"
	StateTraining   State = "training"
	StatePublishing State = "publishing"
)

// Config parameterizes the asynchronous trainer.
type Config struct {
	RunID  string
	Member predictor.MemberConfig

	Members      int
	BatchSize    int
	ValPct       float64
	ValFreq      int
	ValSteps     int
	Epochs       int
	LearningRate float64

	ResetEveryTrain bool
	// LabelWithNoise selects the label policy: true labels each step with
	// the realized (noisy) action; false substitutes the planner's
	// noise-free action while keeping the observation and collision label.
	LabelWithNoise bool
	// LabelHorizon bounds the collision label window: a step is labeled 1
	// only when a collision occurs within LabelHorizon steps of it. Zero
	// labels every step up to the collision.
	LabelHorizon int

	TrainEvery     time.Duration
	MinNewRollouts int
}

// Coordinator owns the training loop. It shares exactly one mutable resource
// with the control loop: the snapshot handle, written only by Publish in one
// atomic step.
type Coordinator struct {
	cfg    Config
	store  storage.Store
	handle *predictor.Handle
	rng    *rand.Rand
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	cycle          int
	trainedThrough int
	diagnostics    []model.TrainingDiagnostics
}

func New(cfg Config, store storage.Store, handle *predictor.Handle, rng *rand.Rand, logger *slog.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if handle == nil {
		return nil, fmt.Errorf("snapshot handle is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if cfg.Members <= 0 {
		return nil, fmt.Errorf("ensemble size must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.ValPct < 0 || cfg.ValPct >= 1 {
		return nil, fmt.Errorf("validation percentage must be in [0, 1)")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be > 0")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	if cfg.TrainEvery <= 0 {
		cfg.TrainEvery = time.Second
	}
	if cfg.MinNewRollouts <= 0 {
		cfg.MinNewRollouts = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		handle: handle,
		rng:    rng,
		logger: logger,
		state:  StateIdle,
	}, nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run triggers training cycles periodically until the context is canceled.
// The control loop never waits on this goroutine.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TrainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.setState(StateIdle)
			return nil
		case <-ticker.C:
			if err := c.TrainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					c.setState(StateIdle)
					return nil
				}
				c.logger.Warn("training cycle failed", "err", err)
			}
		}
	}
}

// TrainOnce runs one full IDLE -> BATCHING -> TRAINING -> PUBLISHING cycle.
// A cycle without enough new rollouts is a no-op. Cancellation is honored at
// each phase boundary; a canceled cycle publishes nothing.
func (c *Coordinator) TrainOnce(ctx context.Context) error {
	defer c.setState(StateIdle)

	count, err := c.store.CountRollouts(ctx)
	if err != nil {
		return c.fail(ctx, 0, fmt.Errorf("%w: count rollouts: %v", ErrTrainingFailure, err))
	}
	c.mu.Lock()
	newRollouts := count - c.trainedThrough
	c.mu.Unlock()
	if newRollouts < c.cfg.MinNewRollouts {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	c.setState(StateBatching)
	rollouts, err := c.store.RecentRollouts(ctx, c.cfg.BatchSize)
	if err != nil {
		return c.fail(ctx, 0, fmt.Errorf("%w: sample rollouts: %v", ErrTrainingFailure, err))
	}
	if len(rollouts) == 0 {
		return nil
	}
	examples := c.buildExamples(rollouts)
	if len(examples) == 0 {
		return nil
	}
	train, val := splitExamples(c.rng, examples, c.cfg.ValPct)

	if err := ctx.Err(); err != nil {
		return err
	}
	c.setState(StateTraining)
	previous := c.handle.Load()
	members, trainLoss, err := c.trainMembers(previous, train)
	if err != nil {
		return c.fail(ctx, len(rollouts), fmt.Errorf("%w: %v", ErrTrainingFailure, err))
	}

	validated := false
	valLoss := 0.0
	c.mu.Lock()
	cycle := c.cycle
	c.mu.Unlock()
	if c.cfg.ValFreq > 0 && cycle%c.cfg.ValFreq == 0 && len(val) > 0 {
		validated = true
		limit := len(val)
		if c.cfg.ValSteps > 0 && c.cfg.ValSteps < limit {
			limit = c.cfg.ValSteps
		}
		for _, m := range members {
			valLoss += m.Loss(val[:limit])
		}
		valLoss /= float64(len(members))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	c.setState(StatePublishing)
	version := 1
	if previous != nil {
		version = previous.Version + 1
	}
	published := make([]predictor.Member, len(members))
	for i, m := range members {
		published[i] = m
	}
	snapshot := &predictor.Snapshot{
		Version:   version,
		CreatedAt: time.Now(),
		Members:   published,
	}
	c.handle.Publish(snapshot)

	meta := model.SnapshotMeta{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:        fmt.Sprintf("%s:%d", c.cfg.RunID, version),
		Version:   version,
		Members:   len(published),
		TrainedAt: snapshot.CreatedAt,
	}
	if err := c.store.SaveSnapshotMeta(ctx, meta); err != nil {
		c.logger.Warn("save snapshot meta failed", "err", err)
	}

	c.mu.Lock()
	c.cycle++
	c.trainedThrough = count
	c.diagnostics = append(c.diagnostics, model.TrainingDiagnostics{
		Cycle:         cycle,
		BatchRollouts: len(rollouts),
		TrainExamples: len(train),
		TrainLoss:     trainLoss,
		ValLoss:       valLoss,
		Validated:     validated,
		Published:     true,
	})
	diagnostics := append([]model.TrainingDiagnostics(nil), c.diagnostics...)
	c.mu.Unlock()

	if err := c.store.SaveTrainingDiagnostics(ctx, c.cfg.RunID, diagnostics); err != nil {
		c.logger.Warn("save diagnostics failed", "err", err)
	}
	c.logger.Info("published ensemble snapshot",
		"version", version, "rollouts", len(rollouts), "train_loss", trainLoss)
	return nil
}

// Diagnostics returns the per-cycle training summaries so far.
func (c *Coordinator) Diagnostics() []model.TrainingDiagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.TrainingDiagnostics(nil), c.diagnostics...)
}

// fail records the failed cycle and consumes its cycle number, so retries
// never share a number with a later success.
func (c *Coordinator) fail(ctx context.Context, batchRollouts int, err error) error {
	c.mu.Lock()
	c.diagnostics = append(c.diagnostics, model.TrainingDiagnostics{
		Cycle:         c.cycle,
		BatchRollouts: batchRollouts,
		Error:         err.Error(),
	})
	c.cycle++
	c.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// trainMembers fits each ensemble member on its own bootstrap resample of
// the training set. Members are cloned from the served snapshot, so the
// snapshot being read by the planner is never mutated.
func (c *Coordinator) trainMembers(previous *predictor.Snapshot, train []predictor.Example) ([]predictor.TrainableMember, float64, error) {
	members := make([]predictor.TrainableMember, c.cfg.Members)
	for i := range members {
		var member predictor.TrainableMember
		if previous != nil && i < len(previous.Members) {
			if trainable, ok := previous.Members[i].(predictor.TrainableMember); ok {
				member = trainable.Clone()
			}
		}
		if member == nil {
			built, err := predictor.NewTrainableMember(c.cfg.Member, c.rng)
			if err != nil {
				return nil, 0, err
			}
			member = built
		}
		if c.cfg.ResetEveryTrain {
			member.Reinit(c.rng)
		}
		members[i] = member
	}

	totalLoss := 0.0
	for _, member := range members {
		resample := bootstrapResample(c.rng, train)
		totalLoss += member.Fit(c.rng, resample, c.cfg.Epochs, c.cfg.LearningRate)
	}
	return members, totalLoss / float64(len(members)), nil
}

// buildExamples applies the label policy to completed rollouts. A step's
// collision label is 1 when a collision occurs within LabelHorizon steps of
// it; steps further from the crash than the predictor can see stay 0.
func (c *Coordinator) buildExamples(rollouts []model.Rollout) []predictor.Example {
	var examples []predictor.Example
	for _, rollout := range rollouts {
		collideAt := -1
		for i, step := range rollout.Steps {
			if step.Collision {
				collideAt = i
				break
			}
		}
		for i, step := range rollout.Steps {
			label := 0.0
			if collideAt >= i && (c.cfg.LabelHorizon <= 0 || collideAt-i < c.cfg.LabelHorizon) {
				label = 1.0
			}
			action := step.Action
			if !c.cfg.LabelWithNoise && step.NoiseApplied {
				action = step.Planned
			}
			examples = append(examples, predictor.Example{
				Observation: append([]float64(nil), step.Observation...),
				Action:      append([]float64(nil), action...),
				Label:       label,
			})
		}
	}
	return examples
}

// splitExamples shuffles before splitting so the validation set is not
// systematically the newest tail of the batch.
func splitExamples(rng *rand.Rand, examples []predictor.Example, valPct float64) (train, val []predictor.Example) {
	shuffled := append([]predictor.Example(nil), examples...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nVal := int(float64(len(shuffled)) * valPct)
	if nVal >= len(shuffled) {
		nVal = len(shuffled) - 1
	}
	split := len(shuffled) - nVal
	return shuffled[:split], shuffled[split:]
}

func bootstrapResample(rng *rand.Rand, examples []predictor.Example) []predictor.Example {
	out := make([]predictor.Example, len(examples))
	for i := range out {
		out[i] = examples[rng.Intn(len(examples))]
	}
	return out
}

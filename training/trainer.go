package training

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/RobinDong/try-multimodal/checkpoints"
	"github.com/RobinDong/try-multimodal/model"
	"github.com/RobinDong/try-multimodal/optimizer"
	"github.com/RobinDong/try-multimodal/tensor"
)

// TrainerState names the phases of the training loop.
type TrainerState int

const (
	StateInitializing TrainerState = iota
	StateStepping
	StateEvaluating
	StateCheckpointing
	StateTerminated
)

func (ts TrainerState) String() string {
	switch ts {
	case StateInitializing:
		return "Initializing"
	case StateStepping:
		return "Stepping"
	case StateEvaluating:
		return "Evaluating"
	case StateCheckpointing:
		return "Checkpointing"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// initialBestAccuracy is near-zero so the first evaluation that retrieves
// anything at all produces a checkpoint.
const initialBestAccuracy = 1e-9

// Trainer orchestrates the pretraining loop: scheduled optimizer steps with
// scaled losses, periodic evaluation, and a checkpoint whenever the eval
// accuracy improves on the best seen so far.
type Trainer struct {
	config    TrainingConfig
	model     *model.CLIP
	opt       optimizer.Optimizer
	scheduler LRScheduler
	source    *ResilientBatchSource
	evaluator *Evaluator
	scaler    *GradScaler
	saver     *checkpoints.CheckpointSaver
	progress  *ProgressReporter
	logger    *slog.Logger

	params       []*tensor.Tensor
	state        TrainerState
	iteration    int
	bestAccuracy float64
	skippedSteps int
	runID        string
}

func NewTrainer(
	config TrainingConfig,
	m *model.CLIP,
	opt optimizer.Optimizer,
	scheduler LRScheduler,
	source *ResilientBatchSource,
	evaluator *Evaluator,
	logger *slog.Logger,
) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if m == nil || opt == nil || scheduler == nil || source == nil || evaluator == nil {
		return nil, fmt.Errorf("trainer requires model, optimizer, scheduler, batch source and evaluator")
	}
	if logger == nil {
		logger = slog.Default()
	}

	scalerConfig := DefaultGradScalerConfig()
	scalerConfig.InitialScale = float32(config.InitialLossScale)
	scaler, err := NewGradScaler(scalerConfig)
	if err != nil {
		return nil, err
	}

	format := checkpoints.FormatJSON
	if config.CheckpointFormat == "binary" {
		format = checkpoints.FormatBinary
	}

	return &Trainer{
		config:       config,
		model:        m,
		opt:          opt,
		scheduler:    scheduler,
		source:       source,
		evaluator:    evaluator,
		scaler:       scaler,
		saver:        checkpoints.NewCheckpointSaver(format),
		progress:     NewProgressReporter(logger, config.LogInterval),
		logger:       logger,
		params:       m.Parameters(),
		state:        StateInitializing,
		bestAccuracy: initialBestAccuracy,
		runID:        uuid.NewString(),
	}, nil
}

// State returns the current loop phase.
func (t *Trainer) State() TrainerState {
	return t.state
}

// Iteration returns the number of completed iterations.
func (t *Trainer) Iteration() int {
	return t.iteration
}

// BestAccuracy returns the best evaluation accuracy seen so far.
func (t *Trainer) BestAccuracy() float64 {
	return t.bestAccuracy
}

// SkippedSteps returns how many optimizer steps were dropped because of
// non-finite gradients.
func (t *Trainer) SkippedSteps() int {
	return t.skippedSteps
}

// Run drives the loop until MaxIters or context cancellation.
func (t *Trainer) Run(ctx context.Context) error {
	t.logger.Info("training starts",
		"run_id", t.runID,
		"start_iter", t.iteration,
		"max_iters", t.config.MaxIters,
		"scheduler", t.scheduler.GetName(),
	)
	t.state = StateStepping

	for t.iteration < t.config.MaxIters {
		if err := ctx.Err(); err != nil {
			t.state = StateTerminated
			return err
		}

		if err := t.step(); err != nil {
			t.state = StateTerminated
			return fmt.Errorf("iteration %d: %w", t.iteration, err)
		}
		t.iteration++

		if t.iteration%t.config.EvalInterval == 0 {
			if err := t.evaluate(); err != nil {
				t.state = StateTerminated
				return fmt.Errorf("evaluation at %d: %w", t.iteration, err)
			}
			t.state = StateStepping
		}
	}

	t.state = StateTerminated
	t.logger.Info("training finished",
		"iterations", t.iteration,
		"best_accuracy", t.bestAccuracy,
		"skipped_steps", t.skippedSteps,
	)
	return nil
}

func (t *Trainer) step() error {
	lr := t.scheduler.GetLR(t.iteration)
	t.opt.UpdateLearningRate(float32(lr))

	batch, err := t.source.NextBatch()
	if err != nil {
		return err
	}

	for _, p := range t.params {
		p.ZeroGrad()
	}

	bundle, err := t.model.Forward(batch)
	if err != nil {
		return err
	}
	scaled, err := t.scaler.ScaleLoss(bundle.Total)
	if err != nil {
		return err
	}
	if err := scaled.Backward(); err != nil {
		return err
	}

	_, finite := t.scaler.UnscaleAndClip(t.params, float32(t.config.GradClip))
	if finite {
		if err := t.opt.Step(t.params); err != nil {
			return err
		}
	} else {
		t.skippedSteps++
		t.logger.Warn("skipping step on non-finite gradients",
			"iter", t.iteration, "loss_scale", t.scaler.Scale())
	}
	t.scaler.Update(finite)

	loss, err := bundle.Total.Item()
	if err != nil {
		return err
	}
	contrastive, err := bundle.Contrastive.Item()
	if err != nil {
		return err
	}
	generative, err := bundle.Generative.Item()
	if err != nil {
		return err
	}
	epoch := 0
	if perEpoch := t.source.BatchesPerEpoch(); perEpoch > 0 {
		epoch = t.iteration / perEpoch
	}
	t.progress.Record(t.iteration, epoch,
		float64(loss), float64(contrastive), float64(generative),
		model.RetrievalAccuracy(bundle.Logits), lr, t.scaler.Scale())
	return nil
}

func (t *Trainer) evaluate() error {
	t.state = StateEvaluating
	result, err := t.evaluator.Run()
	if err != nil {
		return err
	}
	t.logger.Info("eval",
		"iter", t.iteration,
		"accuracy", result.Accuracy,
		"loss", result.Loss,
		"samples", result.Samples,
		"best", t.bestAccuracy,
	)

	if !t.improved(result.Accuracy) {
		return nil
	}

	t.state = StateCheckpointing
	path, err := t.saveCheckpoint(result.Accuracy)
	if err != nil {
		return err
	}
	t.logger.Info("checkpoint saved", "path", path, "accuracy", result.Accuracy)
	return nil
}

// improved reports whether accuracy strictly beats the best seen so far and
// records it when it does. Ties and regressions never checkpoint.
func (t *Trainer) improved(accuracy float64) bool {
	if accuracy <= t.bestAccuracy {
		return false
	}
	t.bestAccuracy = accuracy
	return true
}

func (t *Trainer) saveCheckpoint(accuracy float64) (string, error) {
	if err := os.MkdirAll(t.config.CheckpointDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	optState, err := t.opt.GetState()
	if err != nil {
		return "", err
	}
	metadata := checkpoints.NewMetadata("multimodal pretraining")
	metadata.RunID = t.runID

	checkpoint := &checkpoints.Checkpoint{
		Weights: checkpoints.CaptureWeights(t.params),
		TrainingState: checkpoints.TrainingState{
			Iteration:    t.iteration,
			LearningRate: t.opt.GetLearningRate(),
			EvalAccuracy: accuracy,
			BestAccuracy: t.bestAccuracy,
			LossScale:    t.scaler.Scale(),
		},
		OptimizerState: optState,
		Metadata:       metadata,
	}

	path := checkpoints.CheckpointPath(t.config.CheckpointDir, t.iteration, t.saver.Format())
	if err := t.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", err
	}
	return path, nil
}

// Resume restores model weights, optimizer state and loop progress from a
// checkpoint file.
func (t *Trainer) Resume(path string) error {
	checkpoint, err := t.saver.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := checkpoints.RestoreWeights(t.params, checkpoint.Weights); err != nil {
		return err
	}
	if checkpoint.OptimizerState != nil {
		if err := t.opt.LoadState(checkpoint.OptimizerState); err != nil {
			return err
		}
	}
	t.iteration = checkpoint.TrainingState.Iteration
	t.bestAccuracy = checkpoint.TrainingState.BestAccuracy
	t.scaler.SetScale(checkpoint.TrainingState.LossScale)
	if checkpoint.Metadata.RunID != "" {
		t.runID = checkpoint.Metadata.RunID
	}
	t.logger.Info("resumed from checkpoint",
		"path", path,
		"iter", t.iteration,
		"best_accuracy", t.bestAccuracy,
	)
	return nil
}

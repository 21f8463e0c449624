package training

import (
	"log/slog"
	"time"
)

// ProgressReporter emits one structured log line per reporting window,
// carrying the current step's values rather than a window average.
type ProgressReporter struct {
	logger      *slog.Logger
	interval    int
	windowStart time.Time
}

func NewProgressReporter(logger *slog.Logger, interval int) *ProgressReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < 1 {
		interval = 1
	}
	return &ProgressReporter{
		logger:      logger,
		interval:    interval,
		windowStart: time.Now(),
	}
}

// Record logs one training step when the iteration lands on the reporting
// interval. Iteration zero never logs.
func (r *ProgressReporter) Record(iteration, epoch int, loss, contrastive, generative, accuracy, lr float64, lossScale float32) {
	if iteration == 0 || iteration%r.interval != 0 {
		return
	}

	r.logger.Info("train",
		"iter", iteration,
		"epoch", epoch,
		"loss", loss,
		"itc_loss", contrastive,
		"mlm_loss", generative,
		"accu", accuracy,
		"lr", lr,
		"loss_scale", lossScale,
		"duration", time.Since(r.windowStart).Round(time.Millisecond),
	)
	r.windowStart = time.Now()
}

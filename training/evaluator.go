package training

import (
	"fmt"

	"github.com/RobinDong/try-multimodal/model"
	"github.com/RobinDong/try-multimodal/tensor"
)

// EvalResult summarizes one evaluation pass.
type EvalResult struct {
	// Accuracy is the mean image-to-text retrieval accuracy over all
	// evaluated samples.
	Accuracy float64
	// Loss is the mean training objective per sample, contrastive plus
	// masked-token reconstruction.
	Loss float64
	// Samples is how many pairs were scored.
	Samples int
	// Batches is how many batches were evaluated.
	Batches int
}

// Evaluator scores the model on a held-out sample set using the same fused
// forward pass and loss as training. Evaluation runs with gradients disabled
// and the model in inference mode; both are restored afterwards regardless
// of errors.
type Evaluator struct {
	model     *model.CLIP
	samples   []model.Sample
	batchSize int
	// includePartial evaluates the final short batch too. Off by default:
	// retrieval accuracy over a smaller candidate set is not comparable.
	includePartial bool
}

func NewEvaluator(m *model.CLIP, samples []model.Sample, batchSize int, includePartial bool) (*Evaluator, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if batchSize < 2 {
		return nil, fmt.Errorf("batch size must be at least 2 for retrieval, got %d", batchSize)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no evaluation samples")
	}
	return &Evaluator{
		model:          m,
		samples:        samples,
		batchSize:      batchSize,
		includePartial: includePartial,
	}, nil
}

// Run evaluates every batch and returns the aggregate result.
func (e *Evaluator) Run() (EvalResult, error) {
	prevGrad := tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prevGrad)
	prevMode := e.model.SetTraining(false)
	defer e.model.SetTraining(prevMode)

	var result EvalResult
	var weightedAccuracy, lossSum float64
	for start := 0; start < len(e.samples); start += e.batchSize {
		end := start + e.batchSize
		if end > len(e.samples) {
			if !e.includePartial {
				break
			}
			end = len(e.samples)
		}
		batch := e.samples[start:end]
		if len(batch) < 2 {
			break
		}

		bundle, err := e.model.Forward(batch)
		if err != nil {
			return EvalResult{}, fmt.Errorf("batch at %d: %w", start, err)
		}
		loss, err := bundle.Total.Item()
		if err != nil {
			return EvalResult{}, fmt.Errorf("batch at %d: %w", start, err)
		}
		weightedAccuracy += model.RetrievalAccuracy(bundle.Logits) * float64(len(batch))
		lossSum += float64(loss) * float64(len(batch))
		result.Samples += len(batch)
		result.Batches++
	}
	if result.Samples == 0 {
		return EvalResult{}, fmt.Errorf("evaluation produced no full batches (have %d samples, batch size %d)",
			len(e.samples), e.batchSize)
	}
	result.Accuracy = weightedAccuracy / float64(result.Samples)
	result.Loss = lossSum / float64(result.Samples)
	return result, nil
}

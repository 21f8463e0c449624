package training

import (
	"fmt"
	"math"
)

// LRScheduler maps an iteration number to a learning rate. Schedulers are
// pure functions of the iteration so resuming a run needs no scheduler state.
type LRScheduler interface {
	// GetLR returns the learning rate for the given iteration.
	GetLR(iteration int) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// WarmupCosineScheduler ramps the learning rate linearly over the warmup
// iterations, then follows a half-cosine from the base rate down to the
// floor, which holds for the rest of the run.
type WarmupCosineScheduler struct {
	BaseLR      float64
	MinLR       float64
	WarmupIters int
	DecayIters  int
}

// NewWarmupCosineScheduler creates a warmup-then-cosine scheduler. DecayIters
// must exceed WarmupIters.
func NewWarmupCosineScheduler(baseLR, minLR float64, warmupIters, decayIters int) (*WarmupCosineScheduler, error) {
	if baseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %g", baseLR)
	}
	if minLR < 0 || minLR > baseLR {
		return nil, fmt.Errorf("min learning rate %g must be in [0, %g]", minLR, baseLR)
	}
	if warmupIters < 0 || decayIters <= warmupIters {
		return nil, fmt.Errorf("decay iters %d must exceed warmup iters %d", decayIters, warmupIters)
	}
	return &WarmupCosineScheduler{
		BaseLR:      baseLR,
		MinLR:       minLR,
		WarmupIters: warmupIters,
		DecayIters:  decayIters,
	}, nil
}

func (s *WarmupCosineScheduler) GetLR(iteration int) float64 {
	if iteration < s.WarmupIters {
		return s.BaseLR * float64(iteration) / float64(s.WarmupIters)
	}
	if iteration > s.DecayIters {
		return s.MinLR
	}

	decayRatio := float64(iteration-s.WarmupIters) / float64(s.DecayIters-s.WarmupIters)
	if decayRatio < 0 || decayRatio > 1 {
		panic(fmt.Sprintf("decay ratio %g out of [0, 1] at iteration %d", decayRatio, iteration))
	}
	coeff := 0.5 * (1.0 + math.Cos(math.Pi*decayRatio))
	return s.MinLR + coeff*(s.BaseLR-s.MinLR)
}

func (s *WarmupCosineScheduler) GetName() string {
	return "WarmupCosine"
}

// ConstantLRScheduler always returns the base rate. Useful for debugging.
type ConstantLRScheduler struct {
	LR float64
}

func (s *ConstantLRScheduler) GetLR(iteration int) float64 {
	return s.LR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}

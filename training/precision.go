package training

import (
	"fmt"
	"math"

	"github.com/RobinDong/try-multimodal/tensor"
)

// GradScalerConfig controls dynamic loss scaling.
type GradScalerConfig struct {
	InitialScale   float32
	GrowthFactor   float32
	BackoffFactor  float32
	GrowthInterval int
}

// DefaultGradScalerConfig returns the standard loss scaling configuration.
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		InitialScale:   65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler implements dynamic loss scaling: losses are multiplied by the
// scale before backward, gradients divided by it before the optimizer step.
// A non-finite gradient skips the step and backs the scale off; a long run
// of clean steps grows it again.
type GradScaler struct {
	config    GradScalerConfig
	scale     float32
	goodSteps int
}

func NewGradScaler(config GradScalerConfig) (*GradScaler, error) {
	if config.InitialScale < 1 {
		return nil, fmt.Errorf("initial scale must be at least 1, got %g", config.InitialScale)
	}
	if config.GrowthFactor <= 1 {
		return nil, fmt.Errorf("growth factor must exceed 1, got %g", config.GrowthFactor)
	}
	if config.BackoffFactor <= 0 || config.BackoffFactor >= 1 {
		return nil, fmt.Errorf("backoff factor must be in (0, 1), got %g", config.BackoffFactor)
	}
	if config.GrowthInterval < 1 {
		return nil, fmt.Errorf("growth interval must be positive, got %d", config.GrowthInterval)
	}
	return &GradScaler{config: config, scale: config.InitialScale}, nil
}

// Scale returns the current loss scale.
func (g *GradScaler) Scale() float32 {
	return g.scale
}

// SetScale restores the scale from a checkpoint.
func (g *GradScaler) SetScale(scale float32) {
	if scale >= 1 {
		g.scale = scale
		g.goodSteps = 0
	}
}

// ScaleLoss multiplies the loss by the current scale.
func (g *GradScaler) ScaleLoss(loss *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Scale(loss, g.scale)
}

// UnscaleAndClip divides every gradient by the scale, then clips the global
// norm to maxNorm (no clipping when maxNorm is 0). It reports the unscaled
// global norm and whether all gradients are finite; on non-finite gradients
// the parameters must not be stepped.
func (g *GradScaler) UnscaleAndClip(params []*tensor.Tensor, maxNorm float32) (gradNorm float32, finite bool) {
	inv := 1 / g.scale
	var sumSquares float64
	finite = true
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		for i, v := range grad {
			u := v * inv
			grad[i] = u
			f := float64(u)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				finite = false
			}
			sumSquares += f * f
		}
	}
	if !finite {
		return 0, false
	}

	gradNorm = float32(math.Sqrt(sumSquares))
	if maxNorm > 0 && gradNorm > maxNorm {
		shrink := maxNorm / gradNorm
		for _, p := range params {
			grad := p.Grad()
			if grad == nil {
				continue
			}
			for i := range grad {
				grad[i] *= shrink
			}
		}
	}
	return gradNorm, true
}

// Update advances the scaling state after a step attempt. stepped reports
// whether the optimizer step was taken.
func (g *GradScaler) Update(stepped bool) {
	if !stepped {
		g.scale *= g.config.BackoffFactor
		if g.scale < 1 {
			g.scale = 1
		}
		g.goodSteps = 0
		return
	}
	g.goodSteps++
	if g.goodSteps >= g.config.GrowthInterval {
		g.scale *= g.config.GrowthFactor
		g.goodSteps = 0
	}
}

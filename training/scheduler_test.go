package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupCosineSchedulerShape(t *testing.T) {
	s, err := NewWarmupCosineScheduler(1e-4, 1e-6, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, "WarmupCosine", s.GetName())

	// Warmup starts at zero and ramps monotonically below the base rate.
	assert.Equal(t, 0.0, s.GetLR(0))
	prev := 0.0
	for it := 1; it < 100; it++ {
		lr := s.GetLR(it)
		assert.Greater(t, lr, prev, "iteration %d", it)
		assert.Less(t, lr, 1e-4)
		prev = lr
	}

	// Warmup hands over to the cosine at exactly the base rate.
	assert.InDelta(t, 1e-4, s.GetLR(100), 1e-12)

	// Cosine midpoint sits halfway between base and floor.
	mid := s.GetLR(550)
	assert.InDelta(t, (1e-4+1e-6)/2, mid, 1e-7)

	// At and beyond the decay horizon the floor holds.
	assert.InDelta(t, 1e-6, s.GetLR(1000), 1e-9)
	assert.Equal(t, 1e-6, s.GetLR(1001))
	assert.Equal(t, 1e-6, s.GetLR(10_000_000))
}

func TestWarmupCosineSchedulerDecreasesAfterWarmup(t *testing.T) {
	s, err := NewWarmupCosineScheduler(0.01, 0.001, 10, 110)
	require.NoError(t, err)

	prev := s.GetLR(10)
	for it := 11; it <= 110; it++ {
		lr := s.GetLR(it)
		assert.Less(t, lr, prev, "iteration %d", it)
		assert.GreaterOrEqual(t, lr, 0.001)
		prev = lr
	}
}

func TestWarmupCosineSchedulerRejectsBadConfig(t *testing.T) {
	_, err := NewWarmupCosineScheduler(0, 0, 10, 100)
	assert.Error(t, err)

	_, err = NewWarmupCosineScheduler(1e-4, 1e-3, 10, 100)
	assert.Error(t, err, "floor above base rate")

	_, err = NewWarmupCosineScheduler(1e-4, 1e-6, 100, 100)
	assert.Error(t, err, "decay must exceed warmup")

	_, err = NewWarmupCosineScheduler(1e-4, 1e-6, -1, 100)
	assert.Error(t, err)
}

func TestConstantLRScheduler(t *testing.T) {
	s := &ConstantLRScheduler{LR: 0.5}
	assert.Equal(t, 0.5, s.GetLR(0))
	assert.Equal(t, 0.5, s.GetLR(99999))
	assert.Equal(t, "ConstantLR", s.GetName())
}

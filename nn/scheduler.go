package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LRScheduler interface defines learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for the given step
	GetLR(step int) float32

	// Name returns the scheduler name
	Name() string
}

// NewScheduler builds a schedule by name: "constant", "linear",
// "exponential" or "cosine". totalSteps is the planned iteration count.
// Decaying schedules end at baseLR/10.
func NewScheduler(name string, baseLR float32, totalSteps int) (LRScheduler, error) {
	if totalSteps < 1 {
		totalSteps = 1
	}
	switch strings.ToLower(name) {
	case "", "constant":
		return NewConstantScheduler(baseLR), nil
	case "linear":
		return NewLinearDecayScheduler(baseLR, baseLR/10, totalSteps), nil
	case "exponential":
		return NewExponentialDecayScheduler(baseLR, 0.1, totalSteps), nil
	case "cosine":
		return NewCosineAnnealingScheduler(baseLR, baseLR/10, totalSteps), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown learning rate schedule %q", name)
	}
}

// ============================================================================
// Constant Scheduler - Fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float32
}

func NewConstantScheduler(baseLR float32) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(step int) float32 {
	return s.baseLR
}

func (s *ConstantScheduler) Name() string {
	return "Constant"
}

// ============================================================================
// Linear Decay Scheduler - Linear decay from initial to final LR
// ============================================================================

type LinearDecayScheduler struct {
	initialLR  float32
	finalLR    float32
	totalSteps int
}

func NewLinearDecayScheduler(initialLR, finalLR float32, totalSteps int) *LinearDecayScheduler {
	return &LinearDecayScheduler{
		initialLR:  initialLR,
		finalLR:    finalLR,
		totalSteps: totalSteps,
	}
}

func (s *LinearDecayScheduler) GetLR(step int) float32 {
	if step >= s.totalSteps {
		return s.finalLR
	}

	// Linear interpolation: lr = initialLR + (finalLR - initialLR) * (step / totalSteps)
	progress := float32(step) / float32(s.totalSteps)
	return s.initialLR + (s.finalLR-s.initialLR)*progress
}

func (s *LinearDecayScheduler) Name() string {
	return "LinearDecay"
}

// ============================================================================
// Cosine Annealing Scheduler - Cosine decay to a floor
// ============================================================================

type CosineAnnealingScheduler struct {
	initialLR  float32
	minLR      float32
	totalSteps int
}

func NewCosineAnnealingScheduler(initialLR, minLR float32, totalSteps int) *CosineAnnealingScheduler {
	return &CosineAnnealingScheduler{
		initialLR:  initialLR,
		minLR:      minLR,
		totalSteps: totalSteps,
	}
}

func (s *CosineAnnealingScheduler) GetLR(step int) float32 {
	if step >= s.totalSteps {
		return s.minLR
	}
	progress := float64(step) / float64(s.totalSteps)

	// lr = minLR + (initialLR - minLR) * (1 + cos(pi * progress)) / 2
	cosineDecay := float32((1.0 + math.Cos(math.Pi*progress)) / 2.0)
	return s.minLR + (s.initialLR-s.minLR)*cosineDecay
}

func (s *CosineAnnealingScheduler) Name() string {
	return "CosineAnnealing"
}

// ============================================================================
// Exponential Decay Scheduler - Exponential decay
// ============================================================================

type ExponentialDecayScheduler struct {
	initialLR  float32
	decayRate  float32
	decaySteps int
}

func NewExponentialDecayScheduler(initialLR, decayRate float32, decaySteps int) *ExponentialDecayScheduler {
	return &ExponentialDecayScheduler{
		initialLR:  initialLR,
		decayRate:  decayRate,
		decaySteps: decaySteps,
	}
}

func (s *ExponentialDecayScheduler) GetLR(step int) float32 {
	// lr = initialLR * decayRate^(step / decaySteps)
	exponent := float64(step) / float64(s.decaySteps)
	return s.initialLR * float32(math.Pow(float64(s.decayRate), exponent))
}

func (s *ExponentialDecayScheduler) Name() string {
	return "ExponentialDecay"
}

package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Optimizer updates one trainable tensor in place from its gradient.
// Moment estimates and other state live inside the optimizer value, so one
// optimizer must be used for exactly one parameter.
type Optimizer interface {
	// Step applies grad to param
	Step(param, grad *Tensor, learningRate float32) error

	// Reset clears optimizer state (momentum, etc.)
	Reset()

	// Name returns the optimizer name
	Name() string
}

// NewOptimizer builds an optimizer by name: "adam", "adamw", "sgd",
// "sgd_momentum" or "rmsprop".
func NewOptimizer(name string) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "", "adam":
		return NewAdamOptimizerDefault(), nil
	case "adamw":
		return NewAdamWOptimizerDefault(), nil
	case "sgd":
		return NewSGDOptimizer(), nil
	case "sgd_momentum":
		return NewSGDOptimizerWithMomentum(0.9, 0, false), nil
	case "rmsprop":
		return NewRMSpropOptimizerDefault(), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown optimizer %q", name)
	}
}

func checkStep(param, grad *Tensor) error {
	if param == nil || grad == nil || len(param.Data) != len(grad.Data) {
		return errors.Wrap(ErrInvalidShape, "optimizer: parameter and gradient sizes differ")
	}
	return nil
}

// ensureState (re)allocates a state buffer for n elements. A buffer of a
// different size means the optimizer is being reused for another parameter.
func ensureState(buf []float32, n int) ([]float32, error) {
	if buf == nil {
		return make([]float32, n), nil
	}
	if len(buf) != n {
		return nil, errors.Wrapf(ErrInvalidShape, "optimizer: state sized %d, parameter sized %d", len(buf), n)
	}
	return buf, nil
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	momentum  float32
	velocity  []float32
	dampening float32
	nesterov  bool
}

func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{}
}

func NewSGDOptimizerWithMomentum(momentum, dampening float32, nesterov bool) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:  momentum,
		dampening: dampening,
		nesterov:  nesterov,
	}
}

func (opt *SGDOptimizer) Step(param, grad *Tensor, learningRate float32) error {
	if err := checkStep(param, grad); err != nil {
		return err
	}

	// Simple SGD without momentum: w = w - lr * grad
	if opt.momentum == 0 {
		for j, g := range grad.Data {
			param.Data[j] -= learningRate * g
		}
		return nil
	}

	v, err := ensureState(opt.velocity, len(param.Data))
	if err != nil {
		return err
	}
	opt.velocity = v

	// v = momentum * v + (1 - dampening) * grad
	// w = w - lr * v (or w - lr * (grad + momentum * v) for Nesterov)
	for j, g := range grad.Data {
		v[j] = opt.momentum*v[j] + (1-opt.dampening)*g
		if opt.nesterov {
			param.Data[j] -= learningRate * (g + opt.momentum*v[j])
		} else {
			param.Data[j] -= learningRate * v[j]
		}
	}
	return nil
}

func (opt *SGDOptimizer) Reset() {
	opt.velocity = nil
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		if opt.nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// AdamW Optimizer (Adam with decoupled weight decay)
// ============================================================================

type AdamWOptimizer struct {
	beta1       float32
	beta2       float32
	epsilon     float32
	weightDecay float32
	step        int

	// First moment estimates (momentum)
	m []float32

	// Second moment estimates (variance)
	v []float32
}

func NewAdamWOptimizer(beta1, beta2, epsilon, weightDecay float32) *AdamWOptimizer {
	return &AdamWOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
	}
}

func NewAdamWOptimizerDefault() *AdamWOptimizer {
	return NewAdamWOptimizer(0.9, 0.999, 1e-8, 0.01)
}

// NewAdamOptimizer is AdamW without weight decay.
func NewAdamOptimizer(beta1, beta2, epsilon float32) *AdamWOptimizer {
	return NewAdamWOptimizer(beta1, beta2, epsilon, 0)
}

// NewAdamOptimizerDefault uses beta1 0.9, beta2 0.999, epsilon 1e-7.
func NewAdamOptimizerDefault() *AdamWOptimizer {
	return NewAdamOptimizer(0.9, 0.999, 1e-7)
}

func (opt *AdamWOptimizer) Step(param, grad *Tensor, learningRate float32) error {
	if err := checkStep(param, grad); err != nil {
		return err
	}
	m, err := ensureState(opt.m, len(param.Data))
	if err != nil {
		return err
	}
	v, err := ensureState(opt.v, len(param.Data))
	if err != nil {
		return err
	}
	opt.m, opt.v = m, v
	opt.step++

	// Bias correction factors
	biasCorrection1 := 1.0 - float32(math.Pow(float64(opt.beta1), float64(opt.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(opt.beta2), float64(opt.step)))

	for j, g := range grad.Data {
		// Update biased first and second moment estimates
		m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
		v[j] = opt.beta2*v[j] + (1-opt.beta2)*g*g

		// Compute bias-corrected moments
		mHat := m[j] / biasCorrection1
		vHat := v[j] / biasCorrection2

		param.Data[j] -= learningRate * (mHat/(float32(math.Sqrt(float64(vHat)))+opt.epsilon) + opt.weightDecay*param.Data[j])
	}
	return nil
}

func (opt *AdamWOptimizer) Reset() {
	opt.step = 0
	opt.m = nil
	opt.v = nil
}

func (opt *AdamWOptimizer) Name() string {
	if opt.weightDecay == 0 {
		return "Adam"
	}
	return "AdamW"
}

// ============================================================================
// RMSprop Optimizer
// ============================================================================

type RMSpropOptimizer struct {
	alpha    float32 // Decay rate
	epsilon  float32
	momentum float32

	// Running average of squared gradients
	v []float32

	// Momentum buffer (if momentum > 0)
	buf []float32
}

func NewRMSpropOptimizer(alpha, epsilon, momentum float32) *RMSpropOptimizer {
	return &RMSpropOptimizer{
		alpha:    alpha,
		epsilon:  epsilon,
		momentum: momentum,
	}
}

func NewRMSpropOptimizerDefault() *RMSpropOptimizer {
	return NewRMSpropOptimizer(0.99, 1e-8, 0.0)
}

func (opt *RMSpropOptimizer) Step(param, grad *Tensor, learningRate float32) error {
	if err := checkStep(param, grad); err != nil {
		return err
	}
	v, err := ensureState(opt.v, len(param.Data))
	if err != nil {
		return err
	}
	opt.v = v
	if opt.momentum > 0 {
		buf, err := ensureState(opt.buf, len(param.Data))
		if err != nil {
			return err
		}
		opt.buf = buf
	}

	for j, g := range grad.Data {
		// Update running average: v = alpha * v + (1 - alpha) * grad^2
		v[j] = opt.alpha*v[j] + (1-opt.alpha)*g*g
		scaled := g / float32(math.Sqrt(float64(v[j]+opt.epsilon)))

		if opt.momentum > 0 {
			opt.buf[j] = opt.momentum*opt.buf[j] + scaled
			param.Data[j] -= learningRate * opt.buf[j]
		} else {
			param.Data[j] -= learningRate * scaled
		}
	}
	return nil
}

func (opt *RMSpropOptimizer) Reset() {
	opt.v = nil
	opt.buf = nil
}

func (opt *RMSpropOptimizer) Name() string {
	if opt.momentum > 0 {
		return "RMSprop (momentum)"
	}
	return "RMSprop"
}

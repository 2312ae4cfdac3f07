package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Conv2D is a 2D convolution with a fused activation.
// Kernel layout: [kernelH][kernelW][inChannels][filters]
type Conv2D struct {
	Activation    ActivationType
	KernelSize    int
	Stride        int
	Padding       int
	InputChannels int
	Filters       int
	Kernel        []float32
	Bias          []float32
}

// InitConv2D creates a Conv2D layer with He-initialised weights drawn from rng
func InitConv2D(inputChannels, filters, kernelSize, stride, padding int, activation ActivationType, rng *rand.Rand) *Conv2D {
	kernel := make([]float32, kernelSize*kernelSize*inputChannels*filters)
	stddev := math.Sqrt(2.0 / float64(inputChannels*kernelSize*kernelSize))
	for i := range kernel {
		kernel[i] = float32(rng.NormFloat64() * stddev)
	}

	return &Conv2D{
		Activation:    activation,
		KernelSize:    kernelSize,
		Stride:        stride,
		Padding:       padding,
		InputChannels: inputChannels,
		Filters:       filters,
		Kernel:        kernel,
		Bias:          make([]float32, filters),
	}
}

// NumParams returns the number of kernel and bias weights
func (c *Conv2D) NumParams() int {
	return len(c.Kernel) + len(c.Bias)
}

// OutputSize returns the spatial output size for an input of inH x inW
func (c *Conv2D) OutputSize(inH, inW int) (int, int) {
	outH := (inH+2*c.Padding-c.KernelSize)/c.Stride + 1
	outW := (inW+2*c.Padding-c.KernelSize)/c.Stride + 1
	return outH, outW
}

func (c *Conv2D) check(input *Tensor) (inH, inW, outH, outW int, err error) {
	if c.Stride <= 0 || c.KernelSize <= 0 {
		return 0, 0, 0, 0, errors.Wrapf(ErrInvalidShape, "conv2d: kernel %d stride %d", c.KernelSize, c.Stride)
	}
	if len(c.Kernel) != c.KernelSize*c.KernelSize*c.InputChannels*c.Filters || len(c.Bias) != c.Filters {
		return 0, 0, 0, 0, errors.Wrapf(ErrInvalidShape, "conv2d: weights do not match %dx%dx%dx%d",
			c.KernelSize, c.KernelSize, c.InputChannels, c.Filters)
	}
	if err := Validate("conv2d input", input, c.InputChannels); err != nil {
		return 0, 0, 0, 0, err
	}
	inH, inW, _ = input.Dims()
	if inH+2*c.Padding < c.KernelSize || inW+2*c.Padding < c.KernelSize {
		return 0, 0, 0, 0, errors.Wrapf(ErrInvalidShape, "conv2d: input %dx%d smaller than kernel %d", inH, inW, c.KernelSize)
	}
	outH, outW = c.OutputSize(inH, inW)
	return inH, inW, outH, outW, nil
}

// Forward performs the convolution on CPU.
// input shape: [1][height][width][inChannels]
// Returns: preActivation (before activation), postActivation (after activation)
func (c *Conv2D) Forward(input *Tensor) (*Tensor, *Tensor, error) {
	inH, inW, outH, outW, err := c.check(input)
	if err != nil {
		return nil, nil, err
	}
	inC := c.InputChannels
	kSize := c.KernelSize
	filters := c.Filters

	preActivation := NewImageTensor(outH, outW, filters)
	postActivation := NewImageTensor(outH, outW, filters)

	parallelRows(outH, func(lo, hi int) {
		for oh := lo; oh < hi; oh++ {
			for ow := 0; ow < outW; ow++ {
				outBase := (oh*outW + ow) * filters
				acc := preActivation.Data[outBase : outBase+filters]
				copy(acc, c.Bias)

				for kh := 0; kh < kSize; kh++ {
					ih := oh*c.Stride + kh - c.Padding
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < kSize; kw++ {
						iw := ow*c.Stride + kw - c.Padding
						if iw < 0 || iw >= inW {
							continue
						}
						inBase := (ih*inW + iw) * inC
						kBase := (kh*kSize + kw) * inC * filters
						for ic := 0; ic < inC; ic++ {
							v := input.Data[inBase+ic]
							if v == 0 {
								continue
							}
							row := c.Kernel[kBase+ic*filters : kBase+(ic+1)*filters]
							for f, k := range row {
								acc[f] += v * k
							}
						}
					}
				}

				post := postActivation.Data[outBase : outBase+filters]
				for f, v := range acc {
					post[f] = activateCPU(v, c.Activation)
				}
			}
		}
	})

	return preActivation, postActivation, nil
}

// BackwardInput computes the gradient with respect to the layer input.
// gradOutput: gradient flowing back from the next layer (w.r.t. postActivation)
// preActivation: value returned by Forward
// inputShape: shape of the Forward input
// Kernel and bias gradients are not computed: the weights are frozen.
func (c *Conv2D) BackwardInput(gradOutput, preActivation *Tensor, inputShape []int) (*Tensor, error) {
	if !gradOutput.SameShape(preActivation) {
		return nil, errors.Wrapf(ErrInvalidShape, "conv2d backward: grad %v vs activation %v", gradOutput.Shape, preActivation.Shape)
	}
	if len(inputShape) != 4 || inputShape[3] != c.InputChannels {
		return nil, errors.Wrapf(ErrInvalidShape, "conv2d backward: input shape %v", inputShape)
	}
	inH, inW := inputShape[1], inputShape[2]
	outH, outW, filters := preActivation.Dims()
	if eh, ew := c.OutputSize(inH, inW); eh != outH || ew != outW || filters != c.Filters {
		return nil, errors.Wrapf(ErrInvalidShape, "conv2d backward: output %v does not follow input %v", preActivation.Shape, inputShape)
	}
	inC := c.InputChannels
	kSize := c.KernelSize

	// Apply activation derivative once up front
	gradPre := make([]float32, len(gradOutput.Data))
	for i, g := range gradOutput.Data {
		gradPre[i] = g * activateDerivativeCPU(preActivation.Data[i], c.Activation)
	}

	gradInput := NewImageTensor(inH, inW, inC)

	// Gather form: each goroutine owns a band of input rows, so the
	// accumulation below never races.
	parallelRows(inH, func(lo, hi int) {
		for ih := lo; ih < hi; ih++ {
			for iw := 0; iw < inW; iw++ {
				gBase := (ih*inW + iw) * inC
				gIn := gradInput.Data[gBase : gBase+inC]

				for kh := 0; kh < kSize; kh++ {
					numH := ih + c.Padding - kh
					if numH < 0 || numH%c.Stride != 0 {
						continue
					}
					oh := numH / c.Stride
					if oh >= outH {
						continue
					}
					for kw := 0; kw < kSize; kw++ {
						numW := iw + c.Padding - kw
						if numW < 0 || numW%c.Stride != 0 {
							continue
						}
						ow := numW / c.Stride
						if ow >= outW {
							continue
						}
						oBase := (oh*outW + ow) * filters
						gOut := gradPre[oBase : oBase+filters]
						kBase := (kh*kSize + kw) * inC * filters
						for ic := 0; ic < inC; ic++ {
							row := c.Kernel[kBase+ic*filters : kBase+(ic+1)*filters]
							var sum float32
							for f, k := range row {
								sum += gOut[f] * k
							}
							gIn[ic] += sum
						}
					}
				}
			}
		}
	})

	return gradInput, nil
}

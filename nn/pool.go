package nn

import "github.com/pkg/errors"

// MaxPool2D is a channel-wise max pooling layer with no padding
type MaxPool2D struct {
	Size   int
	Stride int
}

// OutputSize returns the spatial output size for an input of inH x inW
func (p MaxPool2D) OutputSize(inH, inW int) (int, int) {
	if inH < p.Size || inW < p.Size {
		return 0, 0
	}
	return (inH-p.Size)/p.Stride + 1, (inW-p.Size)/p.Stride + 1
}

// Forward pools input and returns the output together with, for every output
// element, the flat index of the input element that won the max.
func (p MaxPool2D) Forward(input *Tensor) (*Tensor, []int, error) {
	if p.Size <= 0 || p.Stride <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidShape, "maxpool: size %d stride %d", p.Size, p.Stride)
	}
	if err := Validate("maxpool input", input, 0); err != nil {
		return nil, nil, err
	}
	inH, inW, ch := input.Dims()
	outH, outW := p.OutputSize(inH, inW)
	if outH == 0 || outW == 0 {
		return nil, nil, errors.Wrapf(ErrInvalidShape, "maxpool: input %dx%d smaller than window %d", inH, inW, p.Size)
	}

	output := NewImageTensor(outH, outW, ch)
	argmax := make([]int, len(output.Data))

	for oh := 0; oh < outH; oh++ {
		for ow := 0; ow < outW; ow++ {
			for c := 0; c < ch; c++ {
				best := -1
				var bestVal float32
				for kh := 0; kh < p.Size; kh++ {
					for kw := 0; kw < p.Size; kw++ {
						idx := input.Index(oh*p.Stride+kh, ow*p.Stride+kw, c)
						if best < 0 || input.Data[idx] > bestVal {
							best = idx
							bestVal = input.Data[idx]
						}
					}
				}
				o := output.Index(oh, ow, c)
				output.Data[o] = bestVal
				argmax[o] = best
			}
		}
	}
	return output, argmax, nil
}

// Backward routes each output gradient to the input element that produced it
func (p MaxPool2D) Backward(gradOutput *Tensor, argmax []int, inputShape []int) (*Tensor, error) {
	if len(argmax) != len(gradOutput.Data) {
		return nil, errors.Wrapf(ErrInvalidShape, "maxpool backward: %d indices for %d gradients", len(argmax), len(gradOutput.Data))
	}
	gradInput := NewTensor(inputShape...)
	for i, g := range gradOutput.Data {
		idx := argmax[i]
		if idx < 0 || idx >= len(gradInput.Data) {
			return nil, errors.Wrapf(ErrInvalidShape, "maxpool backward: index %d outside input %v", idx, inputShape)
		}
		gradInput.Data[idx] += g
	}
	return gradInput, nil
}

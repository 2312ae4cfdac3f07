package nn

import (
	"math"

	"github.com/pkg/errors"
)

// Tensor is a dense float32 tensor stored in row-major order.
type Tensor struct {
	Data  []float32
	Shape []int
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float32, shapeSize(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// NewTensorFromSlice wraps data with the given shape without copying it.
// It returns nil when len(data) does not match the shape.
func NewTensorFromSlice(data []float32, shape ...int) *Tensor {
	if len(data) != shapeSize(shape) {
		return nil
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...)}
}

// NewImageTensor allocates a [1, h, w, c] tensor.
func NewImageTensor(h, w, c int) *Tensor {
	return NewTensor(1, h, w, c)
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0
		}
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Data: data, Shape: append([]int(nil), t.Shape...)}
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if t == nil || other == nil || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// Dims returns height, width and channels of a [1, h, w, c] tensor.
func (t *Tensor) Dims() (h, w, c int) {
	if len(t.Shape) != 4 {
		return 0, 0, 0
	}
	return t.Shape[1], t.Shape[2], t.Shape[3]
}

// Index converts (y, x, ch) into a flat offset of a [1, h, w, c] tensor.
func (t *Tensor) Index(y, x, ch int) int {
	return (y*t.Shape[2]+x)*t.Shape[3] + ch
}

// At returns the value at (y, x, ch).
func (t *Tensor) At(y, x, ch int) float32 {
	return t.Data[t.Index(y, x, ch)]
}

// Set stores v at (y, x, ch).
func (t *Tensor) Set(y, x, ch int, v float32) {
	t.Data[t.Index(y, x, ch)] = v
}

// Validate checks that t is a single-image [1, h, w, c] tensor with
// non-empty spatial extent and finite values. channels <= 0 accepts any
// channel count.
func Validate(name string, t *Tensor, channels int) error {
	if t == nil {
		return errors.Wrapf(ErrInvalidShape, "%s is nil", name)
	}
	if len(t.Shape) != 4 {
		return errors.Wrapf(ErrInvalidShape, "%s must be 4D, got shape %v", name, t.Shape)
	}
	if t.Shape[0] != 1 {
		return errors.Wrapf(ErrInvalidShape, "%s must have batch size 1, got %d", name, t.Shape[0])
	}
	h, w, c := t.Dims()
	if h <= 0 || w <= 0 || c <= 0 {
		return errors.Wrapf(ErrInvalidShape, "%s has degenerate shape %v", name, t.Shape)
	}
	if channels > 0 && c != channels {
		return errors.Wrapf(ErrInvalidShape, "%s must have %d channels, got %d", name, channels, c)
	}
	if len(t.Data) != h*w*c {
		return errors.Wrapf(ErrInvalidShape, "%s data length %d does not match shape %v", name, len(t.Data), t.Shape)
	}
	for i, v := range t.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.Wrapf(ErrInvalidShape, "%s contains non-finite value at index %d", name, i)
		}
	}
	return nil
}

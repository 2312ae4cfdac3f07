package nst

import (
	"github.com/openfluke/nst/nn"
	"gonum.org/v1/gonum/mat"
)

// features flattens a [1,h,w,c] activation into the [h*w, c] matrix F.
// NHWC data is already laid out row-major that way.
func features(act *nn.Tensor) (*mat.Dense, error) {
	if err := nn.Validate("activation", act, 0); err != nil {
		return nil, err
	}
	h, w, c := act.Dims()
	data := make([]float64, len(act.Data))
	for i, v := range act.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(h*w, c, data), nil
}

// GramMatrix returns G = FᵀF / (h*w) for an activation of shape [1,h,w,c].
// Dividing by the number of positions makes G comparable across image sizes.
func GramMatrix(act *nn.Tensor) (*mat.SymDense, error) {
	f, err := features(act)
	if err != nil {
		return nil, err
	}
	positions, c := f.Dims()
	g := mat.NewSymDense(c, nil)
	g.SymOuterK(1/float64(positions), f.T())
	return g, nil
}

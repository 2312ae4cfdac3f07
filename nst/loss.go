package nst

import (
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ContentLayerLoss is the mean squared difference between two activations
// of the same layer.
func ContentLayerLoss(target, generated *nn.Tensor) (float64, error) {
	if target == nil || generated == nil || !target.SameShape(generated) {
		return 0, errors.Wrap(nn.ErrInvalidShape, "content loss: activation shapes differ")
	}
	if len(target.Data) == 0 {
		return 0, errors.Wrap(nn.ErrInvalidShape, "content loss: empty activation")
	}
	return nn.MeanSquaredDiff(generated.Data, target.Data), nil
}

// contentLayerGrad returns scale * dLoss/dGenerated = scale * 2(Fg-Fc)/N.
func contentLayerGrad(target, generated *nn.Tensor, scale float64) *nn.Tensor {
	grad := nn.NewTensor(generated.Shape...)
	k := 2 * scale / float64(len(generated.Data))
	for i, v := range generated.Data {
		grad.Data[i] = float32(k * float64(v-target.Data[i]))
	}
	return grad
}

// StyleLayerLoss is the mean squared difference between two Gram matrices,
// sum((Gg-Gs)^2) / c^2.
func StyleLayerLoss(style, generated *mat.SymDense) (float64, error) {
	c := style.SymmetricDim()
	if generated.SymmetricDim() != c || c == 0 {
		return 0, errors.Wrapf(nn.ErrInvalidShape, "style loss: gram sizes %d and %d", c, generated.SymmetricDim())
	}
	var sum float64
	for i := 0; i < c; i++ {
		for j := 0; j < c; j++ {
			d := generated.At(i, j) - style.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(c*c), nil
}

// styleLayerGrad returns scale * dLoss/dF for the layer loss above, where
// G = FᵀF/M: dL/dG = 2(Gg-Gs)/c^2 and dL/dF = (2/M) F dL/dG.
func styleLayerGrad(act *nn.Tensor, style, generated *mat.SymDense, scale float64) (*nn.Tensor, error) {
	f, err := features(act)
	if err != nil {
		return nil, err
	}
	m, c := f.Dims()

	var dg mat.Dense
	dg.Sub(generated, style)
	dg.Scale(2*scale/float64(c*c), &dg)

	var df mat.Dense
	df.Mul(f, &dg)
	df.Scale(2/float64(m), &df)

	grad := nn.NewTensor(act.Shape...)
	raw := df.RawMatrix()
	for i := 0; i < m; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+c]
		for j, v := range row {
			grad.Data[i*c+j] = float32(v)
		}
	}
	return grad, nil
}

// ContentLoss extracts layer from both images and returns their content loss.
func ContentLoss(fe nn.FeatureExtractor, content, generated *nn.Tensor, layer string) (float64, error) {
	target, err := nn.Extract(fe, content, layer)
	if err != nil {
		return 0, err
	}
	gen, err := nn.Extract(fe, generated, layer)
	if err != nil {
		return 0, err
	}
	return ContentLayerLoss(target, gen)
}

// StyleLoss averages the Gram matrix loss between style and generated over
// layers.
func StyleLoss(fe nn.FeatureExtractor, style, generated *nn.Tensor, layers []string) (float64, error) {
	if len(layers) == 0 {
		return 0, errors.Wrap(nn.ErrInvalidConfig, "style loss: no layers")
	}
	targets, err := styleGrams(fe, style, layers)
	if err != nil {
		return 0, err
	}
	acts, err := fe.Forward(generated, layers)
	if err != nil {
		return 0, err
	}
	var total float64
	for i, layer := range layers {
		act, err := acts.Activation(layer)
		if err != nil {
			return 0, err
		}
		g, err := GramMatrix(act)
		if err != nil {
			return 0, err
		}
		l, err := StyleLayerLoss(targets[i], g)
		if err != nil {
			return 0, errors.WithMessage(err, layer)
		}
		total += l / float64(len(layers))
	}
	return total, nil
}

// styleGrams returns the Gram matrix of img at each layer, in order.
func styleGrams(fe nn.FeatureExtractor, img *nn.Tensor, layers []string) ([]*mat.SymDense, error) {
	acts, err := fe.Forward(img, layers)
	if err != nil {
		return nil, err
	}
	grams := make([]*mat.SymDense, len(layers))
	for i, layer := range layers {
		act, err := acts.Activation(layer)
		if err != nil {
			return nil, err
		}
		if grams[i], err = GramMatrix(act); err != nil {
			return nil, errors.WithMessage(err, layer)
		}
	}
	return grams, nil
}

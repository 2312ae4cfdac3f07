package nst

import (
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Losses are the terms of the objective for one image.
type Losses struct {
	Total   float64
	Content float64
	Style   float64
}

// Objective is the weighted style transfer loss for a fixed content and
// style pair. The targets are extracted once, when the objective is built.
type Objective struct {
	fe            nn.FeatureExtractor
	contentLayer  string
	styleLayers   []string
	contentWeight float64
	styleWeight   float64

	contentTarget *nn.Tensor
	styleTargets  []*mat.SymDense
	layers        []string
}

// NewObjective extracts the content activation and style Gram matrices that
// the generated image will be compared against.
func NewObjective(fe nn.FeatureExtractor, content, style *nn.Tensor, cfg Config) (*Objective, error) {
	if len(cfg.StyleLayers) == 0 {
		return nil, errors.Wrap(nn.ErrInvalidConfig, "objective: no style layers")
	}
	target, err := nn.Extract(fe, content, cfg.ContentLayer)
	if err != nil {
		return nil, errors.WithMessage(err, "content target")
	}
	grams, err := styleGrams(fe, style, cfg.StyleLayers)
	if err != nil {
		return nil, errors.WithMessage(err, "style targets")
	}

	layers := append([]string{cfg.ContentLayer}, cfg.StyleLayers...)
	return &Objective{
		fe:            fe,
		contentLayer:  cfg.ContentLayer,
		styleLayers:   append([]string(nil), cfg.StyleLayers...),
		contentWeight: cfg.ContentWeight,
		styleWeight:   cfg.StyleWeight,
		contentTarget: target.Clone(),
		styleTargets:  grams,
		layers:        layers,
	}, nil
}

// Evaluate returns the losses of img without computing a gradient.
func (o *Objective) Evaluate(img *nn.Tensor) (Losses, error) {
	l, _, err := o.evaluate(img, false)
	return l, err
}

// Gradient returns the losses of img and dTotal/dImg from one forward and
// one backward pass.
func (o *Objective) Gradient(img *nn.Tensor) (Losses, *nn.Tensor, error) {
	return o.evaluate(img, true)
}

func (o *Objective) evaluate(img *nn.Tensor, withGrad bool) (Losses, *nn.Tensor, error) {
	var l Losses
	acts, err := o.fe.Forward(img, o.layers)
	if err != nil {
		return l, nil, err
	}
	grads := make(map[string]*nn.Tensor)
	addGrad := func(layer string, g *nn.Tensor) {
		if prev, ok := grads[layer]; ok {
			for i, v := range g.Data {
				prev.Data[i] += v
			}
			return
		}
		grads[layer] = g
	}

	gen, err := acts.Activation(o.contentLayer)
	if err != nil {
		return l, nil, err
	}
	if l.Content, err = ContentLayerLoss(o.contentTarget, gen); err != nil {
		return l, nil, errors.WithMessage(err, o.contentLayer)
	}
	if withGrad {
		addGrad(o.contentLayer, contentLayerGrad(o.contentTarget, gen, o.contentWeight))
	}

	perLayer := 1 / float64(len(o.styleLayers))
	for i, layer := range o.styleLayers {
		act, err := acts.Activation(layer)
		if err != nil {
			return l, nil, err
		}
		g, err := GramMatrix(act)
		if err != nil {
			return l, nil, errors.WithMessage(err, layer)
		}
		sl, err := StyleLayerLoss(o.styleTargets[i], g)
		if err != nil {
			return l, nil, errors.WithMessage(err, layer)
		}
		l.Style += perLayer * sl
		if withGrad {
			grad, err := styleLayerGrad(act, o.styleTargets[i], g, o.styleWeight*perLayer)
			if err != nil {
				return l, nil, errors.WithMessage(err, layer)
			}
			addGrad(layer, grad)
		}
	}
	l.Total = o.contentWeight*l.Content + o.styleWeight*l.Style

	if !withGrad {
		return l, nil, nil
	}
	grad, err := acts.Backward(grads)
	if err != nil {
		return l, nil, err
	}
	return l, grad, nil
}

package vgg

import (
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// Pass holds the intermediates of one forward run, enough to backpropagate
// to the input image.
type Pass struct {
	net     *Network
	inputs  []*nn.Tensor
	pre     []*nn.Tensor
	outputs []*nn.Tensor
	argmax  [][]int
}

// Forward runs the network on img up to the deepest of the named layers.
// An empty list runs the whole network.
func (n *Network) Forward(img *nn.Tensor, layers []string) (nn.Activations, error) {
	return n.forward(img, layers)
}

func (n *Network) forward(img *nn.Tensor, layers []string) (*Pass, error) {
	if err := nn.Validate("image", img, n.Arch.InputChannels); err != nil {
		return nil, errors.Wrapf(nn.ErrExtraction, "%s: %v", n.Arch.Name, err)
	}
	depth := len(n.layers)
	if len(layers) > 0 {
		var err error
		if depth, err = n.depthFor(layers); err != nil {
			return nil, err
		}
	}

	p := &Pass{
		net:     n,
		inputs:  make([]*nn.Tensor, depth),
		pre:     make([]*nn.Tensor, depth),
		outputs: make([]*nn.Tensor, depth),
		argmax:  make([][]int, depth),
	}

	x := img
	for i := 0; i < depth; i++ {
		l := n.layers[i]
		p.inputs[i] = x
		if l.conv != nil {
			pre, post, err := l.conv.Forward(x)
			if err != nil {
				return nil, errors.Wrapf(nn.ErrExtraction, "%s: %v", l.name, err)
			}
			p.pre[i] = pre
			x = post
		} else {
			out, argmax, err := l.pool.Forward(x)
			if err != nil {
				return nil, errors.Wrapf(nn.ErrExtraction, "%s: %v", l.name, err)
			}
			p.argmax[i] = argmax
			x = out
		}
		p.outputs[i] = x
		nn.NotifyObserver(n.Observer, "forward", i, l.name, l.kind(), x)
	}
	return p, nil
}

// Extract returns the activation of one layer for img.
func (n *Network) Extract(img *nn.Tensor, layer string) (*nn.Tensor, error) {
	return nn.Extract(n, img, layer)
}

// Activation returns the output of a computed layer.
func (p *Pass) Activation(layer string) (*nn.Tensor, error) {
	idx, ok := p.net.index[layer]
	if !ok {
		return nil, errors.Wrapf(nn.ErrExtraction, "%s has no layer %q", p.net.Arch.Name, layer)
	}
	if idx >= len(p.outputs) {
		return nil, errors.Wrapf(nn.ErrExtraction, "layer %q was not computed by this pass", layer)
	}
	return p.outputs[idx], nil
}

// Backward propagates per-layer activation gradients down to the image.
// Gradients entering at several layers are summed on the way down.
func (p *Pass) Backward(grads map[string]*nn.Tensor) (*nn.Tensor, error) {
	top := -1
	for name, g := range grads {
		idx, ok := p.net.index[name]
		if !ok || idx >= len(p.outputs) {
			return nil, errors.Wrapf(nn.ErrExtraction, "gradient for layer %q which this pass did not compute", name)
		}
		if !g.SameShape(p.outputs[idx]) {
			return nil, errors.Wrapf(nn.ErrExtraction, "gradient for %s has shape %v, activation has %v", name, g.Shape, p.outputs[idx].Shape)
		}
		top = max(top, idx)
	}

	var g *nn.Tensor
	for i := top; i >= 0; i-- {
		l := p.net.layers[i]
		if extra, ok := grads[l.name]; ok {
			if g == nil {
				g = extra.Clone()
			} else {
				for j, v := range extra.Data {
					g.Data[j] += v
				}
			}
		}
		if g == nil {
			continue
		}

		var err error
		if l.conv != nil {
			g, err = l.conv.BackwardInput(g, p.pre[i], p.inputs[i].Shape)
		} else {
			g, err = l.pool.Backward(g, p.argmax[i], p.inputs[i].Shape)
		}
		if err != nil {
			return nil, errors.Wrapf(nn.ErrExtraction, "backward %s: %v", l.name, err)
		}
		nn.NotifyObserver(p.net.Observer, "backward", i, l.name, l.kind(), g)
	}

	if g == nil {
		return nn.NewTensor(p.inputs[0].Shape...), nil
	}
	return g, nil
}

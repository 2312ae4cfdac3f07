package vgg

import (
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// Checkpoint tensor names: "<layer>.kernel" with shape
// [kernel, kernel, inChannels, filters] and "<layer>.bias" with [filters].
func kernelKey(layer string) string { return layer + ".kernel" }
func biasKey(layer string) string   { return layer + ".bias" }

// Load builds arch from a safetensors checkpoint. Only the conv layers of
// arch are read; extra tensors (classifier head, etc.) are ignored.
func Load(arch Architecture, path string) (*Network, error) {
	tensors, err := nn.LoadSafetensors(path)
	if err != nil {
		return nil, err
	}
	return FromTensors(arch, tensors)
}

// FromTensors builds arch from named weight tensors.
func FromTensors(arch Architecture, tensors map[string]*nn.Tensor) (*Network, error) {
	return build(arch, func(name string, inC, filters int) (*nn.Conv2D, error) {
		k := arch.KernelSize
		kernel, ok := tensors[kernelKey(name)]
		if !ok {
			return nil, errors.Wrapf(nn.ErrInvalidInput, "checkpoint has no %s", kernelKey(name))
		}
		bias, ok := tensors[biasKey(name)]
		if !ok {
			return nil, errors.Wrapf(nn.ErrInvalidInput, "checkpoint has no %s", biasKey(name))
		}
		want := []int{k, k, inC, filters}
		if !kernel.SameShape(&nn.Tensor{Shape: want}) {
			return nil, errors.Wrapf(nn.ErrInvalidInput, "%s has shape %v, want %v", kernelKey(name), kernel.Shape, want)
		}
		if len(bias.Data) != filters {
			return nil, errors.Wrapf(nn.ErrInvalidInput, "%s has %d values, want %d", biasKey(name), len(bias.Data), filters)
		}
		return &nn.Conv2D{
			Activation:    nn.ActivationReLU,
			KernelSize:    k,
			Stride:        1,
			Padding:       k / 2,
			InputChannels: inC,
			Filters:       filters,
			Kernel:        kernel.Data,
			Bias:          bias.Data,
		}, nil
	})
}

// Tensors returns the network weights keyed by checkpoint name.
// The tensors share memory with the network.
func (n *Network) Tensors() map[string]*nn.Tensor {
	out := make(map[string]*nn.Tensor)
	for _, l := range n.layers {
		if l.conv == nil {
			continue
		}
		c := l.conv
		out[kernelKey(l.name)] = &nn.Tensor{
			Data:  c.Kernel,
			Shape: []int{c.KernelSize, c.KernelSize, c.InputChannels, c.Filters},
		}
		out[biasKey(l.name)] = &nn.Tensor{Data: c.Bias, Shape: []int{c.Filters}}
	}
	return out
}

// Save writes the weights as a safetensors checkpoint readable by Load.
func (n *Network) Save(path string) error {
	return nn.SaveSafetensors(path, n.Tensors())
}

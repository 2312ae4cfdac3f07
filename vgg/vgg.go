// Package vgg implements the VGG family of convolutional networks as a frozen
// feature extractor: blocks of 3x3 ReLU convolutions separated by 2x2 max
// pooling, with a backward pass that returns the gradient with respect to
// the input image.
//
// Layers are named the way exported Keras checkpoints name them:
// block1_conv1, block1_conv2, block1_pool, block2_conv1, ...
// A conv layer's activation is its post-ReLU output.
package vgg

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// Layers used by the classic style transfer walkthrough.
const (
	DefaultContentLayer = "block5_conv2"
)

// DefaultStyleLayers spans shallow, mid and deep features.
var DefaultStyleLayers = []string{"block1_conv1", "block3_conv1", "block5_conv1"}

// Architecture describes a VGG-style network: Blocks[b][c] is the number
// of filters of conv layer c in block b.
type Architecture struct {
	Name          string
	Blocks        [][]int
	KernelSize    int
	InputChannels int
}

// VGG19 is the 16-conv configuration E.
var VGG19 = Architecture{
	Name: "vgg19",
	Blocks: [][]int{
		{64, 64},
		{128, 128},
		{256, 256, 256, 256},
		{512, 512, 512, 512},
		{512, 512, 512, 512},
	},
	KernelSize:    3,
	InputChannels: 3,
}

// VGG16 is the 13-conv configuration D.
var VGG16 = Architecture{
	Name: "vgg16",
	Blocks: [][]int{
		{64, 64},
		{128, 128},
		{256, 256, 256},
		{512, 512, 512},
		{512, 512, 512},
	},
	KernelSize:    3,
	InputChannels: 3,
}

// ArchitectureByName returns a preset by name.
func ArchitectureByName(name string) (Architecture, error) {
	switch strings.ToLower(name) {
	case "", "vgg19":
		return VGG19, nil
	case "vgg16":
		return VGG16, nil
	default:
		return Architecture{}, errors.Wrapf(nn.ErrInvalidConfig, "unknown architecture %q", name)
	}
}

// ConvName returns the name of conv layer c (0-based) of block b (0-based).
func ConvName(b, c int) string {
	return fmt.Sprintf("block%d_conv%d", b+1, c+1)
}

// PoolName returns the name of the pooling layer closing block b (0-based).
func PoolName(b int) string {
	return fmt.Sprintf("block%d_pool", b+1)
}

type layer struct {
	name string
	conv *nn.Conv2D
	pool *nn.MaxPool2D
}

func (l layer) kind() string {
	if l.conv != nil {
		return "Conv2D"
	}
	return "MaxPool2D"
}

// Network is a VGG feature extractor with frozen weights.
type Network struct {
	Arch Architecture

	// Observer, if set, receives per-layer statistics of every forward
	// and backward pass.
	Observer nn.LayerObserver

	layers []layer
	index  map[string]int
}

func (a Architecture) validate() error {
	if len(a.Blocks) == 0 || a.KernelSize <= 0 || a.InputChannels <= 0 {
		return errors.Wrapf(nn.ErrInvalidConfig, "architecture %q is empty", a.Name)
	}
	for b, block := range a.Blocks {
		if len(block) == 0 {
			return errors.Wrapf(nn.ErrInvalidConfig, "architecture %q: block %d has no conv layers", a.Name, b+1)
		}
		for _, f := range block {
			if f <= 0 {
				return errors.Wrapf(nn.ErrInvalidConfig, "architecture %q: block %d has %d filters", a.Name, b+1, f)
			}
		}
	}
	return nil
}

// build lays out the layers of arch, asking newConv for each conv layer.
func build(arch Architecture, newConv func(name string, inC, filters int) (*nn.Conv2D, error)) (*Network, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}
	n := &Network{Arch: arch, index: make(map[string]int)}
	inC := arch.InputChannels
	for b, block := range arch.Blocks {
		for c, filters := range block {
			name := ConvName(b, c)
			conv, err := newConv(name, inC, filters)
			if err != nil {
				return nil, err
			}
			n.index[name] = len(n.layers)
			n.layers = append(n.layers, layer{name: name, conv: conv})
			inC = filters
		}
		name := PoolName(b)
		n.index[name] = len(n.layers)
		n.layers = append(n.layers, layer{name: name, pool: &nn.MaxPool2D{Size: 2, Stride: 2}})
	}
	return n, nil
}

// New builds arch with He-initialised random weights drawn from rng.
// A random network still produces meaningful texture statistics, which
// makes it useful for tests and for trying the pipeline without a checkpoint.
func New(arch Architecture, rng *rand.Rand) (*Network, error) {
	return build(arch, func(_ string, inC, filters int) (*nn.Conv2D, error) {
		pad := arch.KernelSize / 2
		return nn.InitConv2D(inC, filters, arch.KernelSize, 1, pad, nn.ActivationReLU, rng), nil
	})
}

// LayerNames returns every layer name in forward order.
func (n *Network) LayerNames() []string {
	names := make([]string, len(n.layers))
	for i, l := range n.layers {
		names[i] = l.name
	}
	return names
}

// HasLayer reports whether name is a layer of the network.
func (n *Network) HasLayer(name string) bool {
	_, ok := n.index[name]
	return ok
}

// NumParams returns the total number of weights.
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.layers {
		if l.conv != nil {
			total += l.conv.NumParams()
		}
	}
	return total
}

// depthFor returns how many layers must run to produce every named layer.
func (n *Network) depthFor(layers []string) (int, error) {
	depth := 0
	for _, name := range layers {
		idx, ok := n.index[name]
		if !ok {
			return 0, errors.Wrapf(nn.ErrExtraction, "%s has no layer %q", n.Arch.Name, name)
		}
		depth = max(depth, idx+1)
	}
	return depth, nil
}

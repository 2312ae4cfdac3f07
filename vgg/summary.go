package vgg

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// LayerInfo describes one layer for an input of a given size.
type LayerInfo struct {
	Name        string
	Kind        string
	OutputShape []int
	Params      int
}

// Describe returns the layer table for an h x w input without running the
// network. Layers whose output would be empty end the table.
func (n *Network) Describe(h, w int) []LayerInfo {
	infos := make([]LayerInfo, 0, len(n.layers))
	c := n.Arch.InputChannels
	for _, l := range n.layers {
		info := LayerInfo{Name: l.name, Kind: l.kind()}
		if l.conv != nil {
			h, w = l.conv.OutputSize(h, w)
			c = l.conv.Filters
			info.Params = l.conv.NumParams()
		} else {
			h, w = l.pool.OutputSize(h, w)
		}
		if h <= 0 || w <= 0 {
			break
		}
		info.OutputShape = []int{1, h, w, c}
		infos = append(infos, info)
	}
	return infos
}

// Summary prints a Keras-style model summary for an h x w input.
func (n *Network) Summary(out io.Writer, h, w int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model: %s\n", n.Arch.Name)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	fmt.Fprintf(tw, "input\t%v\t0\n", []int{1, h, w, n.Arch.InputChannels})
	for _, info := range n.Describe(h, w) {
		fmt.Fprintf(tw, "%s (%s)\t%v\t%d\n", info.Name, info.Kind, info.OutputShape, info.Params)
	}
	fmt.Fprintf(tw, "Total params: %d\n", n.NumParams())
	return errors.Wrap(tw.Flush(), "write summary")
}

// MinInputSize returns the smallest square input for which every named layer
// still has a non-empty output.
func (n *Network) MinInputSize(layers []string) (int, error) {
	depth, err := n.depthFor(layers)
	if err != nil {
		return 0, err
	}
	size := 1
	for _, l := range n.layers[:depth] {
		if l.pool != nil {
			size *= 2
		}
	}
	return size, nil
}

// ActivationBytes returns how much memory a pass over an h x w input that
// runs as deep as the named layers holds until Backward: the input, the
// pre-activation and output of every conv, and the output and argmax of
// every pool.
func (n *Network) ActivationBytes(h, w int, layers []string) (uint64, error) {
	depth, err := n.depthFor(layers)
	if err != nil {
		return 0, err
	}
	infos := n.Describe(h, w)
	if len(infos) < depth {
		return 0, errors.Wrapf(nn.ErrInvalidShape, "%dx%d input is too small for %s", w, h, n.layers[depth-1].name)
	}
	total := uint64(h*w*n.Arch.InputChannels) * 4
	for _, info := range infos[:depth] {
		size := uint64(info.OutputShape[1] * info.OutputShape[2] * info.OutputShape[3])
		if info.Kind == "Conv2D" {
			total += 2 * 4 * size
		} else {
			total += size * (4 + strconv.IntSize/8)
		}
	}
	return total, nil
}

var _ nn.FeatureExtractor = (*Network)(nil)

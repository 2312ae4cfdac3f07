package nn

// FeatureExtractor runs a fixed, pre-trained network on an image and keeps
// what is needed to differentiate through it.
//
// Forward must compute at least the named layers. It is deterministic for
// fixed weights and has no side effects on img.
type FeatureExtractor interface {
	Forward(img *Tensor, layers []string) (Activations, error)
}

// Activations is the result of one forward pass.
type Activations interface {
	// Activation returns the output of a layer computed by the pass.
	// The returned tensor must not be modified.
	Activation(layer string) (*Tensor, error)

	// Backward takes dLoss/dActivation for any subset of the computed layers
	// and returns dLoss/dImage, shaped like the forward input.
	Backward(grads map[string]*Tensor) (*Tensor, error)
}

// Extract runs fe on img and returns the activation of a single layer.
func Extract(fe FeatureExtractor, img *Tensor, layer string) (*Tensor, error) {
	acts, err := fe.Forward(img, []string{layer})
	if err != nil {
		return nil, err
	}
	return acts.Activation(layer)
}

package nn

// ActivationType defines the activation function fused into a layer
type ActivationType int

const (
	ActivationLinear ActivationType = 0 // v
	ActivationReLU   ActivationType = 1 // max(0, v)
)

func (a ActivationType) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	default:
		return "linear"
	}
}

// activateCPU applies the activation function on CPU
func activateCPU(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	default:
		return v
	}
}

// activateDerivativeCPU computes the derivative of the activation function
// Note: This computes the derivative with respect to the PRE-activation value
func activateDerivativeCPU(preActivation float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		// d/dv max(0, v) = 1 if v > 0, else 0
		if preActivation > 0 {
			return 1
		}
		return 0
	default:
		return 1
	}
}

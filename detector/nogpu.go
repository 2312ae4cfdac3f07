//go:build !gpu

package detector

// Detect always fails in binaries built without -tags gpu.
func Detect() (*Adapter, error) {
	return nil, ErrNoGPU
}

package nn

// Error is a canonical error kind with no additional information attached.
// Context is added by wrapping, so callers match kinds with errors.Is.
type Error struct{ string }

func (err Error) Error() string {
	return err.string
}

// Error kinds shared by every package of the module.
var (
	// ErrInvalidInput: an image or weights file is missing, unreadable or has
	// an unexpected channel count.
	ErrInvalidInput = Error{"invalid input"}

	// ErrInvalidShape: a tensor with a degenerate or mismatched shape reached
	// a computation that cannot handle it.
	ErrInvalidShape = Error{"invalid tensor shape"}

	// ErrExtraction: the feature extractor failed on an input.
	ErrExtraction = Error{"feature extraction failed"}

	// ErrNotYetRun: a result was requested before any iteration was recorded.
	ErrNotYetRun = Error{"no iteration has run yet"}

	// ErrInvalidConfig: a configuration value is out of range.
	ErrInvalidConfig = Error{"invalid configuration"}
)

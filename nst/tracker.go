package nst

import (
	"math"

	"github.com/openfluke/nst/nn"
)

// Tracker keeps every snapshot of a run in iteration order together with
// its loss, and the snapshot with the lowest loss so far.
// The zero value is ready to use. A Tracker is not safe for concurrent use.
type Tracker struct {
	history  []*nn.Tensor
	losses   []float64
	best     *nn.Tensor
	bestLoss float64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset drops every snapshot and the best loss.
func (t *Tracker) Reset() {
	*t = Tracker{}
}

// Record appends a copy of img and replaces the best snapshot if loss is
// strictly lower than the best loss so far.
func (t *Tracker) Record(img *nn.Tensor, loss float64) {
	t.add(img.Clone(), loss)
}

// add records a snapshot the tracker may keep without copying.
func (t *Tracker) add(snapshot *nn.Tensor, loss float64) {
	t.history = append(t.history, snapshot)
	t.losses = append(t.losses, loss)
	if loss < t.BestLoss() {
		t.best = snapshot
		t.bestLoss = loss
	}
}

// Best returns a copy of the lowest-loss snapshot.
func (t *Tracker) Best() (*nn.Tensor, error) {
	if t.best == nil {
		if len(t.history) == 0 {
			return nil, nn.ErrNotYetRun
		}
		// Every recorded loss was NaN or +Inf
		return t.history[0].Clone(), nil
	}
	return t.best.Clone(), nil
}

// BestLoss returns the lowest recorded loss, +Inf before any finite loss.
func (t *Tracker) BestLoss() float64 {
	if t.best == nil {
		return math.Inf(1)
	}
	return t.bestLoss
}

// History returns the snapshots in iteration order. The tensors are shared
// with the tracker and must not be modified.
func (t *Tracker) History() []*nn.Tensor {
	return append([]*nn.Tensor(nil), t.history...)
}

// Losses returns the recorded loss of every snapshot in iteration order.
func (t *Tracker) Losses() []float64 {
	return append([]float64(nil), t.losses...)
}

// Len returns the number of recorded snapshots.
func (t *Tracker) Len() int {
	return len(t.history)
}

package nn

import (
	"log/slog"
)

// LayerStats summarises one layer's output (forward) or input gradient
// (backward).
type LayerStats struct {
	Avg    float32 `json:"avg"`
	Max    float32 `json:"max"`
	Min    float32 `json:"min"`
	Active int     `json:"active"` // values above zero
	Total  int     `json:"total"`
}

// LayerEvent is what a network reports to its observer after each layer.
type LayerEvent struct {
	Type  string     `json:"type"` // "forward" or "backward"
	Index int        `json:"index"`
	Layer string     `json:"layer"`
	Kind  string     `json:"kind"`
	Shape []int      `json:"shape"`
	Stats LayerStats `json:"stats"`
}

// LayerObserver receives layer events. Calls are made synchronously from
// the goroutine running the pass.
type LayerObserver interface {
	OnForward(event LayerEvent)
	OnBackward(event LayerEvent)
}

// ComputeLayerStats calculates summary statistics for an activation slice.
func ComputeLayerStats(data []float32) LayerStats {
	if len(data) == 0 {
		return LayerStats{}
	}
	var sum float64
	maxV, minV := data[0], data[0]
	active := 0
	for _, v := range data {
		sum += float64(v)
		maxV = max(maxV, v)
		minV = min(minV, v)
		if v > 0 {
			active++
		}
	}
	return LayerStats{
		Avg:    float32(sum / float64(len(data))),
		Max:    maxV,
		Min:    minV,
		Active: active,
		Total:  len(data),
	}
}

// NotifyObserver builds an event for t and hands it to obs, if any.
func NotifyObserver(obs LayerObserver, eventType string, index int, layer, kind string, t *Tensor) {
	if obs == nil || t == nil {
		return
	}
	event := LayerEvent{
		Type:  eventType,
		Index: index,
		Layer: layer,
		Kind:  kind,
		Shape: append([]int(nil), t.Shape...),
		Stats: ComputeLayerStats(t.Data),
	}
	if eventType == "backward" {
		obs.OnBackward(event)
	} else {
		obs.OnForward(event)
	}
}

// SlogObserver logs every event at debug level.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o *SlogObserver) log(dir string, event LayerEvent) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(dir,
		"layer", event.Layer,
		"kind", event.Kind,
		"shape", event.Shape,
		"avg", event.Stats.Avg,
		"max", event.Stats.Max,
		"active", event.Stats.Active,
		"total", event.Stats.Total,
	)
}

func (o *SlogObserver) OnForward(event LayerEvent)  { o.log("layer forward", event) }
func (o *SlogObserver) OnBackward(event LayerEvent) { o.log("layer backward", event) }

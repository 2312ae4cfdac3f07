// Package nst implements neural style transfer: the pixels of a generated
// image are optimised so that its activations in a fixed feature network
// match a content image at one layer and the Gram statistics of a style
// image at several layers.
//
// The feature network is anything implementing nn.FeatureExtractor, usually
// a *vgg.Network.
package nst

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// Step describes one finished iteration. Losses were measured on the image
// the iteration started from; Image is the result of its update.
type Step struct {
	RunID        string
	Iteration    int // 1-based
	Losses       Losses
	LearningRate float32
	Elapsed      time.Duration

	// Image is the snapshot recorded for this iteration. It is shared with
	// the tracker and must not be modified.
	Image *nn.Tensor
}

// Transfer runs style transfer with a fixed extractor and configuration.
// Run may be called any number of times, one call at a time; runs share
// nothing but the extractor.
type Transfer struct {
	fe  nn.FeatureExtractor
	cfg Config
}

// New validates cfg and returns a Transfer using fe.
func New(fe nn.FeatureExtractor, cfg Config) (*Transfer, error) {
	if fe == nil {
		return nil, errors.Wrap(nn.ErrInvalidConfig, "nil feature extractor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.StyleLayers = append([]string(nil), cfg.StyleLayers...)
	return &Transfer{fe: fe, cfg: cfg}, nil
}

// Config returns the configuration of t.
func (t *Transfer) Config() Config {
	return t.cfg
}

// Run optimises a copy of content toward the style of style for
// cfg.Iterations steps and returns the best snapshot. Every snapshot is
// recorded in tracker, which may be nil. Run resets tracker first, so a
// tracker reused across runs only holds the latest one. On error the
// snapshots recorded before the failure stay in tracker.
//
// ctx is checked between iterations. With zero iterations Run returns a copy
// of content and records nothing.
func (t *Transfer) Run(ctx context.Context, content, style *nn.Tensor, tracker *Tracker) (*nn.Tensor, error) {
	if err := nn.Validate("content image", content, 3); err != nil {
		return nil, errors.Wrap(nn.ErrInvalidInput, err.Error())
	}
	if err := nn.Validate("style image", style, 3); err != nil {
		return nil, errors.Wrap(nn.ErrInvalidInput, err.Error())
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	tracker.Reset()
	cfg := t.cfg
	runID := uuid.Must(uuid.NewV7()).String()
	log := cfg.logger().With("run_id", runID)

	if cfg.Iterations == 0 {
		log.Info("style transfer skipped", "iterations", 0)
		return content.Clone(), nil
	}

	start := time.Now()
	obj, err := NewObjective(t.fe, content, style, cfg)
	if err != nil {
		return nil, err
	}
	opt, err := nn.NewOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	sched, err := nn.NewScheduler(cfg.Schedule, cfg.LearningRate, cfg.Iterations)
	if err != nil {
		return nil, err
	}
	generated := content.Clone()

	log.Info("style transfer started",
		"iterations", cfg.Iterations,
		"content_layer", cfg.ContentLayer,
		"style_layers", cfg.StyleLayers,
		"optimizer", opt.Name(),
		"lr_schedule", sched.Name(),
		"height", content.Shape[1],
		"width", content.Shape[2],
	)

	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			log.Warn("style transfer cancelled", "iteration", i, "error", err)
			return nil, errors.Wrapf(err, "cancelled after %d iterations", i)
		}

		losses, grad, err := obj.Gradient(generated)
		if err != nil {
			return nil, errors.WithMessagef(err, "iteration %d", i+1)
		}
		lr := sched.GetLR(i)
		if err := opt.Step(generated, grad, lr); err != nil {
			return nil, errors.WithMessagef(err, "iteration %d", i+1)
		}
		nn.ClipPixels(generated)

		snapshot := generated.Clone()
		tracker.add(snapshot, losses.Total)

		step := Step{
			RunID:        runID,
			Iteration:    i + 1,
			Losses:       losses,
			LearningRate: lr,
			Elapsed:      time.Since(start),
			Image:        snapshot,
		}
		log.Info("iteration",
			"iteration", step.Iteration,
			"total_loss", losses.Total,
			"content_loss", losses.Content,
			"style_loss", losses.Style,
			"lr", lr,
			"elapsed", step.Elapsed,
		)
		if cfg.OnIteration != nil {
			cfg.OnIteration(step)
		}
	}

	best, err := tracker.Best()
	if err != nil {
		return nil, err
	}
	log.Info("style transfer finished",
		"best_loss", tracker.BestLoss(),
		"elapsed", time.Since(start),
	)
	return best, nil
}

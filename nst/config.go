package nst

import (
	"log/slog"
	"math"
	"os"

	"github.com/openfluke/nst/nn"
	"github.com/openfluke/nst/vgg"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the hyperparameters of one style transfer run.
type Config struct {
	Iterations    int      `yaml:"iterations"`
	ContentWeight float64  `yaml:"content_weight"`
	StyleWeight   float64  `yaml:"style_weight"`
	LearningRate  float32  `yaml:"learning_rate"`
	Optimizer     string   `yaml:"optimizer"`   // adam, sgd, rmsprop
	Schedule      string   `yaml:"lr_schedule"` // constant, linear, exponential, cosine
	ContentLayer  string   `yaml:"content_layer"`
	StyleLayers   []string `yaml:"style_layers"`

	// Logger receives one record per iteration. Nil means slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// OnIteration, if set, is called synchronously after every iteration.
	OnIteration func(Step) `yaml:"-"`
}

// DefaultConfig returns the settings of the classic walkthrough:
// 50 Adam steps at lr 0.7 with content weight 10 and style weight 1000.
func DefaultConfig() Config {
	return Config{
		Iterations:    50,
		ContentWeight: 10,
		StyleWeight:   1000,
		LearningRate:  0.7,
		Optimizer:     "adam",
		Schedule:      "constant",
		ContentLayer:  vgg.DefaultContentLayer,
		StyleLayers:   append([]string(nil), vgg.DefaultStyleLayers...),
	}
}

// Validate checks ranges. It does not check layer names against a network;
// the extractor reports unknown layers when the run starts.
func (c Config) Validate() error {
	switch {
	case c.Iterations < 0:
		return errors.Wrapf(nn.ErrInvalidConfig, "iterations %d is negative", c.Iterations)
	case !positive(c.ContentWeight):
		return errors.Wrapf(nn.ErrInvalidConfig, "content weight %v must be positive", c.ContentWeight)
	case !positive(c.StyleWeight):
		return errors.Wrapf(nn.ErrInvalidConfig, "style weight %v must be positive", c.StyleWeight)
	case !positive(float64(c.LearningRate)):
		return errors.Wrapf(nn.ErrInvalidConfig, "learning rate %v must be positive", c.LearningRate)
	case c.ContentLayer == "":
		return errors.Wrap(nn.ErrInvalidConfig, "no content layer")
	case len(c.StyleLayers) == 0:
		return errors.Wrap(nn.ErrInvalidConfig, "no style layers")
	}
	for _, l := range c.StyleLayers {
		if l == "" {
			return errors.Wrap(nn.ErrInvalidConfig, "empty style layer name")
		}
	}
	if _, err := nn.NewOptimizer(c.Optimizer); err != nil {
		return err
	}
	if _, err := nn.NewScheduler(c.Schedule, c.LearningRate, max(c.Iterations, 1)); err != nil {
		return err
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// LoadConfigFile reads a YAML config file. Keys missing from the file keep
// their DefaultConfig value.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(nn.ErrInvalidConfig, "read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(nn.ErrInvalidConfig, "parse %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Command nst renders a content image in the style of another image.
//
// Usage:
//
//	nst -content photo.jpg -style painting.jpg -out result.png
//	nst -content photo.jpg -style painting.jpg -weights vgg19.safetensors -iterations 200
//	nst -config run.yaml -content photo.jpg -style painting.jpg -history run.gif
//	nst -weights vgg19.safetensors -summary
//
// Without -weights the network gets seeded random weights, which is enough
// to try the pipeline but gives far weaker results than trained VGG weights.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/openfluke/nst/detector"
	"github.com/openfluke/nst/imageio"
	"github.com/openfluke/nst/nn"
	"github.com/openfluke/nst/nst"
	"github.com/openfluke/nst/palette"
	"github.com/openfluke/nst/vgg"
	"github.com/pkg/errors"
)

type options struct {
	content, style string
	configPath     string
	out            string
	weights        string
	arch           string
	maxDim         int
	history        string
	framesEvery    int
	frameDelay     int
	summary        bool
	seed           int64
	paletteSize    int
	paletteMethod  string
	paletteOut     string
	probe          bool
	computeJSON    bool
	traceLayers    bool
}

func main() {
	var o options
	flag.StringVar(&o.content, "content", "", "content image")
	flag.StringVar(&o.style, "style", "", "style image")
	flag.StringVar(&o.configPath, "config", "", "YAML run config")
	flag.StringVar(&o.out, "out", "result.png", "output image (.png, .jpg)")
	flag.StringVar(&o.weights, "weights", "", "VGG weights (.safetensors); random weights if empty")
	flag.StringVar(&o.arch, "arch", "vgg19", "network: vgg19 or vgg16")
	flag.IntVar(&o.maxDim, "max-dim", 512, "resize inputs so the longer side is at most this (0 keeps size)")
	flag.StringVar(&o.history, "history", "", "write the iteration history as an animated GIF")
	flag.IntVar(&o.framesEvery, "frames-every", 1, "keep every n-th iteration in the history GIF")
	flag.IntVar(&o.frameDelay, "frame-delay", 10, "history GIF frame delay in 1/100 s")
	flag.BoolVar(&o.summary, "summary", false, "print the network summary")
	flag.Int64Var(&o.seed, "seed", 1, "seed for random weights")
	flag.IntVar(&o.paletteSize, "palette", 5, "palette size for the colour report (0 disables)")
	flag.StringVar(&o.paletteMethod, "palette-method", "dominant", "palette method: dominant or kmeans")
	flag.StringVar(&o.paletteOut, "palette-out", "", "write style and result palettes as a PNG swatch")
	flag.BoolVar(&o.probe, "probe", true, "log the compute adapter report")
	flag.BoolVar(&o.computeJSON, "compute-json", false, "print the compute report as JSON and exit")
	flag.BoolVar(&o.traceLayers, "trace-layers", false, "log per-layer activation and gradient statistics (needs -log-level debug)")

	iterations := flag.Int("iterations", 50, "optimisation steps")
	contentWeight := flag.Float64("content-weight", 10, "content loss weight")
	styleWeight := flag.Float64("style-weight", 1000, "style loss weight")
	lr := flag.Float64("lr", 0.7, "learning rate")
	optimizer := flag.String("optimizer", "adam", "optimizer: adam, sgd, rmsprop")
	schedule := flag.String("schedule", "constant", "learning rate schedule: constant, linear, exponential, cosine")
	contentLayer := flag.String("content-layer", vgg.DefaultContentLayer, "content layer")
	styleLayers := flag.String("style-layers", strings.Join(vgg.DefaultStyleLayers, ","), "comma separated style layers")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logFormat, *logLevel)
	slog.SetDefault(logger)

	cfg := nst.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = nst.LoadConfigFile(o.configPath); err != nil {
			logger.Error("nst: config", "error", err)
			os.Exit(2)
		}
	}
	// Flags given on the command line win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iterations":
			cfg.Iterations = *iterations
		case "content-weight":
			cfg.ContentWeight = *contentWeight
		case "style-weight":
			cfg.StyleWeight = *styleWeight
		case "lr":
			cfg.LearningRate = float32(*lr)
		case "optimizer":
			cfg.Optimizer = *optimizer
		case "schedule":
			cfg.Schedule = *schedule
		case "content-layer":
			cfg.ContentLayer = *contentLayer
		case "style-layers":
			cfg.StyleLayers = splitList(*styleLayers)
		}
	})
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o, cfg); err != nil {
		logger.Error("nst: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(format, level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadNetwork(logger *slog.Logger, o options) (*vgg.Network, error) {
	arch, err := vgg.ArchitectureByName(o.arch)
	if err != nil {
		return nil, err
	}
	if o.weights != "" {
		net, err := vgg.Load(arch, o.weights)
		if err != nil {
			return nil, errors.WithMessage(err, o.weights)
		}
		logger.Info("weights loaded", "arch", arch.Name, "path", o.weights, "params", net.NumParams())
		return net, nil
	}
	logger.Warn("no -weights given, using random weights", "arch", arch.Name, "seed", o.seed)
	return vgg.New(arch, rand.New(rand.NewSource(o.seed)))
}

func run(ctx context.Context, logger *slog.Logger, o options, cfg nst.Config) error {
	rep := detector.Probe()
	if o.computeJSON {
		out, err := rep.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, out)
		return errors.Wrap(err, "write report")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	net, err := loadNetwork(logger, o)
	if err != nil {
		return err
	}
	if o.traceLayers {
		net.Observer = &nn.SlogObserver{Logger: logger}
	}
	if o.probe {
		attrs := []any{"cpu_workers", rep.CPUWorkers, "runtime", rep.Runtime}
		if rep.GPU != nil {
			attrs = append(attrs, "gpu", rep.GPU.Name, "backend", rep.GPU.Backend)
		} else {
			attrs = append(attrs, "gpu", "none", "reason", rep.GPUError)
		}
		logger.Info("compute", attrs...)
	}

	if o.content == "" || o.style == "" {
		if o.summary {
			return net.Summary(os.Stdout, 224, 224)
		}
		flag.Usage()
		return errors.Wrap(nn.ErrInvalidInput, "-content and -style are required")
	}

	content, err := imageio.Load(o.content, o.maxDim)
	if err != nil {
		return err
	}
	style, err := imageio.Load(o.style, o.maxDim)
	if err != nil {
		return err
	}
	if o.summary {
		if err := net.Summary(os.Stdout, content.Shape[1], content.Shape[2]); err != nil {
			return err
		}
	}
	layers := append([]string{cfg.ContentLayer}, cfg.StyleLayers...)
	minSize, err := net.MinInputSize(layers)
	if err != nil {
		return err
	}
	for name, img := range map[string]*nn.Tensor{o.content: content, o.style: style} {
		if img.Shape[1] < minSize || img.Shape[2] < minSize {
			return errors.Wrapf(nn.ErrInvalidInput, "%s is %dx%d, the layers used need at least %dx%d",
				name, img.Shape[2], img.Shape[1], minSize, minSize)
		}
	}

	if err := checkBudget(logger, net, rep, content, layers); err != nil {
		return err
	}

	transfer, err := nst.New(net, cfg)
	if err != nil {
		return err
	}
	tracker := nst.NewTracker()
	best, runErr := transfer.Run(ctx, content, style, tracker)
	if runErr != nil {
		if tracker.Len() == 0 {
			return runErr
		}
		// Keep what finished before the failure
		logger.Warn("run stopped early, saving best result so far", "iterations", tracker.Len(), "error", runErr)
		if best, err = tracker.Best(); err != nil {
			return runErr
		}
	}

	if err := imageio.SaveTensor(o.out, best); err != nil {
		return err
	}
	logger.Info("result written", "path", o.out, "best_loss", tracker.BestLoss())

	if o.history != "" && tracker.Len() > 0 {
		if err := imageio.SaveGIF(o.history, tracker.History(), o.framesEvery, o.frameDelay); err != nil {
			return err
		}
		logger.Info("history written", "path", o.history, "snapshots", tracker.Len())
	}

	if o.paletteSize > 0 {
		if err := reportPalette(logger, o, content, style, best); err != nil {
			return err
		}
	}
	return runErr
}

func reportPalette(logger *slog.Logger, o options, content, style, result *nn.Tensor) error {
	method, err := palette.ParseMethod(o.paletteMethod)
	if err != nil {
		return err
	}
	var imgs [3]image.Image
	for i, t := range []*nn.Tensor{content, style, result} {
		if imgs[i], err = imageio.Deprocess(t); err != nil {
			return err
		}
	}
	rep, err := palette.Compare(imgs[0], imgs[1], imgs[2], o.paletteSize, method)
	if err != nil {
		return err
	}
	logger.Info("palette", "method", method.String(), "report", rep)

	if o.paletteOut != "" {
		swatch := stack(sortedSwatch(rep.Style), sortedSwatch(rep.Result))
		if err := imageio.Save(o.paletteOut, swatch); err != nil {
			return err
		}
		logger.Info("palette written", "path", o.paletteOut)
	}
	return nil
}

// checkBudget logs how the largest convolution will be split and warns when
// the activations kept for the backward pass exceed the memory budget.
func checkBudget(logger *slog.Logger, net *vgg.Network, rep detector.Report, img *nn.Tensor, layers []string) error {
	h, w := img.Shape[1], img.Shape[2]
	need, err := net.ActivationBytes(h, w, layers)
	if err != nil {
		return err
	}
	plan := rep.Plan(h, w, net.Arch.Blocks[0][0])
	logger.Info("work split",
		"row_band", plan.RowBand,
		"workgroup_x", plan.WorkgroupX,
		"tile_x", plan.TileX,
		"tile_y", plan.TileY,
		"activation_bytes", need,
		"budget_bytes", plan.BudgetBytes,
	)
	if need > plan.BudgetBytes {
		logger.Warn("activations exceed the memory budget, lower -max-dim or raise NST_BUDGET_MB",
			"activation_mb", need>>20, "budget_mb", plan.BudgetBytes>>20)
	}
	return nil
}

// sortedSwatch renders p darkest first without reordering the report.
func sortedSwatch(p []colorful.Color) *image.NRGBA {
	p = append([]colorful.Color(nil), p...)
	palette.SortByLuminance(p)
	return palette.Swatch(p, 48)
}

// stack places b under a.
func stack(a, b *image.NRGBA) *image.NRGBA {
	w := max(a.Bounds().Dx(), b.Bounds().Dx())
	out := image.NewNRGBA(image.Rect(0, 0, w, a.Bounds().Dy()+b.Bounds().Dy()))
	for y := 0; y < a.Bounds().Dy(); y++ {
		copy(out.Pix[out.PixOffset(0, y):], a.Pix[a.PixOffset(0, y):a.PixOffset(0, y)+4*a.Bounds().Dx()])
	}
	off := a.Bounds().Dy()
	for y := 0; y < b.Bounds().Dy(); y++ {
		copy(out.Pix[out.PixOffset(0, y+off):], b.Pix[b.PixOffset(0, y):b.PixOffset(0, y)+4*b.Bounds().Dx()])
	}
	return out
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: nst -content <image> -style <image> [flags]\n\n")
		flag.PrintDefaults()
	}
}

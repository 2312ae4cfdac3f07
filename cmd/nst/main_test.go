package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/openfluke/nst/detector"
	"github.com/openfluke/nst/imageio"
	"github.com/openfluke/nst/nn"
	"github.com/openfluke/nst/nst"
	"github.com/openfluke/nst/vgg"
)

func TestSplitList(t *testing.T) {
	got := splitList(" block1_conv1, ,block3_conv1,")
	if strings.Join(got, "|") != "block1_conv1|block3_conv1" {
		t.Errorf("Unexpected split %q", got)
	}
}

func TestStack(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	b := image.NewNRGBA(image.Rect(0, 0, 2, 3))
	b.SetNRGBA(1, 2, color.NRGBA{R: 9, A: 255})
	out := stack(a, b)
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 5 {
		t.Fatalf("Unexpected bounds %v", out.Bounds())
	}
	if out.NRGBAAt(1, 4).R != 9 {
		t.Error("Second image not placed below the first")
	}
}

func writeSolid(t *testing.T, path string, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 20; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	if err := imageio.Save(path, img); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skipf("builds a full random VGG19")
	}
	dir := t.TempDir()
	o := options{
		content:       filepath.Join(dir, "content.png"),
		style:         filepath.Join(dir, "style.png"),
		out:           filepath.Join(dir, "out.png"),
		arch:          "vgg19",
		maxDim:        32,
		history:       filepath.Join(dir, "history.gif"),
		framesEvery:   1,
		frameDelay:    5,
		seed:          3,
		paletteSize:   3,
		paletteMethod: "dominant",
		paletteOut:    filepath.Join(dir, "palette.png"),
	}
	writeSolid(t, o.content, color.NRGBA{R: 255, A: 255})
	writeSolid(t, o.style, color.NRGBA{B: 255, A: 255})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := nst.DefaultConfig()
	cfg.Iterations = 2
	cfg.Logger = logger

	if err := run(context.Background(), logger, o, cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, p := range []string{o.out, o.history, o.paletteOut} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Expected %s to be written: %v", filepath.Base(p), err)
		}
	}
	out, err := imageio.Load(o.out, 0)
	if err != nil {
		t.Fatalf("Load result failed: %v", err)
	}
	// Already within -max-dim, so not resized
	if out.Shape[1] != 16 || out.Shape[2] != 20 {
		t.Errorf("Expected a 20x16 result, got %v", out.Shape)
	}
}

func TestRunRejectsSmallImages(t *testing.T) {
	if testing.Short() {
		t.Skipf("builds a full random VGG19")
	}
	dir := t.TempDir()
	o := options{
		content: filepath.Join(dir, "content.png"),
		style:   filepath.Join(dir, "style.png"),
		out:     filepath.Join(dir, "out.png"),
		arch:    "vgg19",
		maxDim:  8,
	}
	writeSolid(t, o.content, color.NRGBA{G: 255, A: 255})
	writeSolid(t, o.style, color.NRGBA{G: 255, A: 255})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), logger, o, nst.DefaultConfig())
	if err == nil || !strings.Contains(err.Error(), "need at least 16x16") {
		t.Errorf("Expected a minimum size error, got %v", err)
	}
}

func TestCheckBudget(t *testing.T) {
	arch := vgg.Architecture{Name: "small", Blocks: [][]int{{4}, {8}}, KernelSize: 3, InputChannels: 3}
	net, err := vgg.New(arch, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("vgg.New failed: %v", err)
	}
	img := nn.NewImageTensor(8, 8, 3)
	layers := []string{"block1_conv1", "block2_conv1"}

	tests := []struct {
		name     string
		budget   uint64
		wantWarn bool
	}{
		{"fits", 1 << 30, false},
		{"over budget", 1024, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			rep := detector.Report{CPUWorkers: 2, BudgetBytes: tt.budget}
			if err := checkBudget(logger, net, rep, img, layers); err != nil {
				t.Fatalf("checkBudget failed: %v", err)
			}
			if !strings.Contains(buf.String(), "row_band=4") {
				t.Errorf("Expected the row band in the log, got %q", buf.String())
			}
			if got := strings.Contains(buf.String(), "exceed the memory budget"); got != tt.wantWarn {
				t.Errorf("Expected warning %v, log was %q", tt.wantWarn, buf.String())
			}
		})
	}
}

func TestSortedSwatchKeepsReportOrder(t *testing.T) {
	p := []colorful.Color{{R: 1, G: 1, B: 1}, {R: 0, G: 0, B: 0}}
	sw := sortedSwatch(p)
	if p[0].R != 1 {
		t.Error("sortedSwatch reordered the caller's palette")
	}
	if c := sw.NRGBAAt(0, 0); c.R != 0 {
		t.Errorf("Expected the darkest colour first, got %v", c)
	}
}

func TestRunPrintsComputeReport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Exits before images or weights are needed
	if err := run(context.Background(), logger, options{computeJSON: true}, nst.Config{}); err != nil {
		t.Errorf("run -compute-json failed: %v", err)
	}
}

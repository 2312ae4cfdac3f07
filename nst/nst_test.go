package nst

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfluke/nst/nn"
	"github.com/openfluke/nst/vgg"
)

var testArch = vgg.Architecture{
	Name:          "test",
	Blocks:        [][]int{{8}, {16}, {16}},
	KernelSize:    3,
	InputChannels: 3,
}

func testNetwork(t *testing.T) *vgg.Network {
	t.Helper()
	net, err := vgg.New(testArch, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("vgg.New failed: %v", err)
	}
	return net
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ContentLayer = "block2_conv1"
	cfg.StyleLayers = []string{"block1_conv1", "block2_conv1", "block3_conv1"}
	return cfg
}

// solid returns a preprocessed (BGR, mean-centred) image of one RGB colour.
func solid(h, w int, r, g, b float32) *nn.Tensor {
	img := nn.NewImageTensor(h, w, 3)
	bgr := [3]float32{b, g, r}
	for i := range img.Data {
		c := i % 3
		img.Data[i] = bgr[c] - nn.MeanBGR[c]
	}
	return img
}

func noise(seed int64, h, w int) *nn.Tensor {
	rng := rand.New(rand.NewSource(seed))
	img := nn.NewImageTensor(h, w, 3)
	for i := range img.Data {
		img.Data[i] = float32(rng.Float64()*255) - nn.MeanBGR[i%3]
	}
	return img
}

func TestGramSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	act := nn.NewImageTensor(5, 7, 6)
	for i := range act.Data {
		act.Data[i] = float32(rng.NormFloat64())
	}
	g, err := GramMatrix(act)
	if err != nil {
		t.Fatalf("GramMatrix failed: %v", err)
	}
	if g.SymmetricDim() != 6 {
		t.Fatalf("Expected 6x6 gram, got %d", g.SymmetricDim())
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			if math.Abs(g.At(i, j)-g.At(j, i)) > 1e-9 {
				t.Errorf("G[%d][%d]=%v but G[%d][%d]=%v", i, j, g.At(i, j), j, i, g.At(j, i))
			}
		}
	}
}

func TestGramKnownValues(t *testing.T) {
	// Two positions, two channels: F = [[1 2] [3 4]]
	act := nn.NewTensorFromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	g, err := GramMatrix(act)
	if err != nil {
		t.Fatalf("GramMatrix failed: %v", err)
	}
	// FᵀF = [[10 14] [14 20]], divided by 2 positions
	want := [2][2]float64{{5, 7}, {7, 10}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(g.At(i, j)-want[i][j]) > 1e-9 {
				t.Errorf("G[%d][%d]: expected %v, got %v", i, j, want[i][j], g.At(i, j))
			}
		}
	}
}

func TestGramHomogeneous(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	act := nn.NewImageTensor(4, 4, 5)
	for i := range act.Data {
		act.Data[i] = float32(rng.NormFloat64())
	}
	doubled := act.Clone()
	for i := range doubled.Data {
		doubled.Data[i] *= 2
	}
	g1, _ := GramMatrix(act)
	g2, err := GramMatrix(doubled)
	if err != nil {
		t.Fatalf("GramMatrix failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if d := math.Abs(g2.At(i, j) - 4*g1.At(i, j)); d > 1e-5*math.Max(1, math.Abs(g2.At(i, j))) {
				t.Errorf("G2[%d][%d]=%v, expected 4x%v", i, j, g2.At(i, j), g1.At(i, j))
			}
		}
	}
}

func TestGramResolutionInvariant(t *testing.T) {
	// Tiling a pattern does not change the per-position statistics
	small := nn.NewTensorFromSlice([]float32{1, 0, 0, 2}, 1, 1, 2, 2)
	big := nn.NewTensorFromSlice([]float32{1, 0, 0, 2, 1, 0, 0, 2}, 1, 2, 2, 2)
	gs, _ := GramMatrix(small)
	gb, err := GramMatrix(big)
	if err != nil {
		t.Fatalf("GramMatrix failed: %v", err)
	}
	l, _ := StyleLayerLoss(gs, gb)
	if l > 1e-12 {
		t.Errorf("Expected equal grams, loss %v", l)
	}
}

func TestGramDegenerate(t *testing.T) {
	tests := []struct {
		name string
		act  *nn.Tensor
	}{
		{"nil", nil},
		{"zero height", &nn.Tensor{Shape: []int{1, 0, 4, 3}}},
		{"zero width", &nn.Tensor{Shape: []int{1, 4, 0, 3}}},
		{"zero channels", &nn.Tensor{Shape: []int{1, 4, 4, 0}}},
		{"not 4D", nn.NewTensor(4, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GramMatrix(tt.act); !errors.Is(err, nn.ErrInvalidShape) {
				t.Errorf("Expected ErrInvalidShape, got %v", err)
			}
		})
	}
}

func TestSelfLossIsZero(t *testing.T) {
	net := testNetwork(t)
	img := noise(3, 16, 16)

	style, err := StyleLoss(net, img, img.Clone(), testConfig().StyleLayers)
	if err != nil {
		t.Fatalf("StyleLoss failed: %v", err)
	}
	if math.Abs(style) > 1e-9 {
		t.Errorf("Expected zero style loss, got %v", style)
	}

	content, err := ContentLoss(net, img, img.Clone(), testConfig().ContentLayer)
	if err != nil {
		t.Fatalf("ContentLoss failed: %v", err)
	}
	if math.Abs(content) > 1e-9 {
		t.Errorf("Expected zero content loss, got %v", content)
	}
}

func TestLossesPositiveForDifferentImages(t *testing.T) {
	net := testNetwork(t)
	a, b := noise(4, 16, 16), solid(16, 16, 0, 0, 255)
	style, err := StyleLoss(net, a, b, testConfig().StyleLayers)
	if err != nil {
		t.Fatalf("StyleLoss failed: %v", err)
	}
	content, err := ContentLoss(net, a, b, testConfig().ContentLayer)
	if err != nil {
		t.Fatalf("ContentLoss failed: %v", err)
	}
	if style <= 0 || content <= 0 {
		t.Errorf("Expected positive losses, got style %v content %v", style, content)
	}
}

func TestStyleLossNoLayers(t *testing.T) {
	net := testNetwork(t)
	img := noise(5, 8, 8)
	if _, err := StyleLoss(net, img, img, nil); !errors.Is(err, nn.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestContentLayerLossShapeMismatch(t *testing.T) {
	if _, err := ContentLayerLoss(nn.NewImageTensor(2, 2, 4), nn.NewImageTensor(2, 3, 4)); !errors.Is(err, nn.ErrInvalidShape) {
		t.Errorf("Expected ErrInvalidShape, got %v", err)
	}
}

// TestObjectiveGradient compares the analytic gradient of the total loss
// with central differences on a few pixels.
func TestObjectiveGradient(t *testing.T) {
	net := testNetwork(t)
	cfg := testConfig()
	content, style := noise(6, 8, 8), noise(7, 8, 8)
	obj, err := NewObjective(net, content, style, cfg)
	if err != nil {
		t.Fatalf("NewObjective failed: %v", err)
	}
	img := noise(8, 8, 8)
	losses, grad, err := obj.Gradient(img)
	if err != nil {
		t.Fatalf("Gradient failed: %v", err)
	}
	want := cfg.ContentWeight*losses.Content + cfg.StyleWeight*losses.Style
	if math.Abs(losses.Total-want) > 1e-9*math.Max(1, want) {
		t.Errorf("Expected total %v, got %v", want, losses.Total)
	}

	const eps = 0.01
	for _, idx := range []int{0, 17, 64, 101, 190} {
		x := img.Clone()
		x.Data[idx] += eps
		plus, err := obj.Evaluate(x)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		x.Data[idx] -= 2 * eps
		minus, _ := obj.Evaluate(x)
		numeric := (plus.Total - minus.Total) / (2 * eps)
		analytic := float64(grad.Data[idx])
		if math.Abs(numeric-analytic) > 0.05*math.Max(math.Abs(numeric), 1e-3*math.Abs(losses.Total)) {
			t.Errorf("idx %d: numeric %g vs analytic %g", idx, numeric, analytic)
		}
	}
}

func TestTrackerBestBeforeRecord(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Best(); !errors.Is(err, nn.ErrNotYetRun) {
		t.Errorf("Expected ErrNotYetRun, got %v", err)
	}
	if !math.IsInf(tr.BestLoss(), 1) {
		t.Errorf("Expected +Inf best loss, got %v", tr.BestLoss())
	}
	var zero Tracker
	if _, err := zero.Best(); !errors.Is(err, nn.ErrNotYetRun) {
		t.Errorf("Expected ErrNotYetRun from zero tracker, got %v", err)
	}
}

func TestTrackerRecord(t *testing.T) {
	tr := NewTracker()
	a := solid(2, 2, 1, 1, 1)
	b := solid(2, 2, 2, 2, 2)
	c := solid(2, 2, 3, 3, 3)

	tr.Record(a, 5)
	tr.Record(b, 3)
	tr.Record(c, 3) // not strictly lower

	if tr.Len() != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", tr.Len())
	}
	best, err := tr.Best()
	if err != nil {
		t.Fatalf("Best failed: %v", err)
	}
	if nn.MaxAbsDiff(best.Data, b.Data) != 0 {
		t.Error("Expected the first snapshot with loss 3 to be best")
	}
	if tr.BestLoss() != 3 {
		t.Errorf("Expected best loss 3, got %v", tr.BestLoss())
	}

	// Snapshots are copies
	a.Data[0] = 1000
	if tr.History()[0].Data[0] == 1000 {
		t.Error("Record kept a reference to the caller's tensor")
	}
	losses := tr.Losses()
	if len(losses) != 3 || losses[0] != 5 || losses[2] != 3 {
		t.Errorf("Unexpected losses %v", losses)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Record(solid(2, 2, 1, 1, 1), 0)
	tr.Reset()
	if tr.Len() != 0 || len(tr.Losses()) != 0 {
		t.Errorf("Expected empty tracker after Reset, got %d snapshots", tr.Len())
	}
	if _, err := tr.Best(); !errors.Is(err, nn.ErrNotYetRun) {
		t.Errorf("Expected ErrNotYetRun after Reset, got %v", err)
	}
	if !math.IsInf(tr.BestLoss(), 1) {
		t.Errorf("Expected +Inf best loss after Reset, got %v", tr.BestLoss())
	}
}

func TestRunReusedTracker(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 2
	tr, err := New(testNetwork(t), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tracker := NewTracker()

	// Content equal to style gives zero loss on the first run, which no
	// later run can beat.
	same := noise(21, 8, 8)
	if _, err := tr.Run(context.Background(), same, same, tracker); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if tracker.BestLoss() != 0 {
		t.Fatalf("Expected zero loss on the first run, got %v", tracker.BestLoss())
	}

	best, err := tr.Run(context.Background(), noise(22, 16, 16), noise(23, 16, 16), tracker)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if best.Shape[1] != 16 || best.Shape[2] != 16 {
		t.Errorf("Expected a 16x16 result from the second run, got %v", best.Shape)
	}
	if tracker.Len() != cfg.Iterations {
		t.Errorf("Expected %d snapshots, got %d", cfg.Iterations, tracker.Len())
	}
	if losses := tracker.Losses(); losses[0] == 0 {
		t.Errorf("First run leaked into the history: %v", losses)
	}

	cfg.Iterations = 0
	zero, err := New(testNetwork(t), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := zero.Run(context.Background(), same, same, tracker); err != nil {
		t.Fatalf("Zero-iteration run failed: %v", err)
	}
	if tracker.Len() != 0 {
		t.Errorf("Expected a zero-iteration run to leave an empty history, got %d", tracker.Len())
	}
}

func TestRunZeroIterations(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 0
	tr, err := New(testNetwork(t), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	content := noise(9, 8, 8)
	tracker := NewTracker()
	best, err := tr.Run(context.Background(), content, noise(10, 8, 8), tracker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if nn.MaxAbsDiff(best.Data, content.Data) != 0 {
		t.Error("Expected the content image back")
	}
	if &best.Data[0] == &content.Data[0] {
		t.Error("Expected a copy of the content image")
	}
	if tracker.Len() != 0 {
		t.Errorf("Expected empty history, got %d", tracker.Len())
	}
	if _, err := tracker.Best(); !errors.Is(err, nn.ErrNotYetRun) {
		t.Errorf("Expected ErrNotYetRun, got %v", err)
	}
}

func TestRunHistoryAndMonotoneBest(t *testing.T) {
	const k = 5
	cfg := testConfig()
	cfg.Iterations = k
	tracker := NewTracker()
	var bests []float64
	var steps []int
	cfg.OnIteration = func(s Step) {
		steps = append(steps, s.Iteration)
		bests = append(bests, tracker.BestLoss())
	}
	tr, err := New(testNetwork(t), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	best, err := tr.Run(context.Background(), noise(11, 16, 16), noise(12, 16, 16), tracker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tracker.Len() != k || len(steps) != k {
		t.Fatalf("Expected %d snapshots and callbacks, got %d and %d", k, tracker.Len(), len(steps))
	}
	for i := 1; i < k; i++ {
		if bests[i] > bests[i-1] {
			t.Errorf("Best loss increased at iteration %d: %v > %v", i+1, bests[i], bests[i-1])
		}
		if steps[i] != i+1 {
			t.Errorf("Expected iteration %d, got %d", i+1, steps[i])
		}
	}
	want, _ := tracker.Best()
	if nn.MaxAbsDiff(best.Data, want.Data) != 0 {
		t.Error("Run did not return the tracked best snapshot")
	}
}

// TestSingleStepLowersLoss runs one iteration from a solid red image toward
// a solid blue style with the default weights and learning rate.
func TestSingleStepLowersLoss(t *testing.T) {
	net := testNetwork(t)
	cfg := testConfig()
	cfg.Iterations = 1
	content := solid(64, 64, 255, 0, 0)
	style := solid(64, 64, 0, 0, 255)

	obj, err := NewObjective(net, content, style, cfg)
	if err != nil {
		t.Fatalf("NewObjective failed: %v", err)
	}
	before, err := obj.Evaluate(content)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	tr, err := New(net, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tracker := NewTracker()
	if _, err := tr.Run(context.Background(), content, style, tracker); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tracker.Len() != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", tracker.Len())
	}
	if got := tracker.Losses()[0]; math.Abs(got-before.Total) > 1e-6*before.Total {
		t.Errorf("Recorded loss %v, expected the pre-step loss %v", got, before.Total)
	}

	after, err := obj.Evaluate(tracker.History()[0])
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.IsNaN(after.Total) || math.IsInf(after.Total, 0) || after.Total < 0 {
		t.Fatalf("Expected a finite non-negative loss, got %v", after.Total)
	}
	if after.Total >= before.Total {
		t.Errorf("Expected loss to drop below %v, got %v", before.Total, after.Total)
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 10
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg.OnIteration = func(s Step) {
		if s.Iteration == 2 {
			cancel()
		}
	}
	tr, err := New(testNetwork(t), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tracker := NewTracker()
	_, err = tr.Run(ctx, noise(13, 8, 8), noise(14, 8, 8), tracker)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if tracker.Len() != 2 {
		t.Errorf("Expected the 2 finished iterations to stay recorded, got %d", tracker.Len())
	}
}

type failingExtractor struct{}

func (failingExtractor) Forward(*nn.Tensor, []string) (nn.Activations, error) {
	return nil, nn.ErrExtraction
}

func TestRunErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 3

	tr, err := New(failingExtractor{}, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	img := noise(15, 8, 8)
	if _, err := tr.Run(context.Background(), img, img, nil); !errors.Is(err, nn.ErrExtraction) {
		t.Errorf("Expected ErrExtraction, got %v", err)
	}

	tr, _ = New(testNetwork(t), cfg)
	gray := nn.NewImageTensor(8, 8, 1)
	if _, err := tr.Run(context.Background(), gray, img, nil); !errors.Is(err, nn.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for a 1-channel image, got %v", err)
	}

	// The network rejects images too small for its pooling
	small := noise(16, 2, 2)
	if _, err := tr.Run(context.Background(), small, img, nil); !errors.Is(err, nn.ErrExtraction) {
		t.Errorf("Expected ErrExtraction for a 2x2 image, got %v", err)
	}

	cfg.ContentLayer = "block9_conv1"
	tr, _ = New(testNetwork(t), cfg)
	if _, err := tr.Run(context.Background(), img, img, nil); !errors.Is(err, nn.ErrExtraction) {
		t.Errorf("Expected ErrExtraction for an unknown layer, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative iterations", func(c *Config) { c.Iterations = -1 }},
		{"zero content weight", func(c *Config) { c.ContentWeight = 0 }},
		{"negative style weight", func(c *Config) { c.StyleWeight = -1 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"no content layer", func(c *Config) { c.ContentLayer = "" }},
		{"no style layers", func(c *Config) { c.StyleLayers = nil }},
		{"unknown optimizer", func(c *Config) { c.Optimizer = "lbfgs" }},
		{"unknown schedule", func(c *Config) { c.Schedule = "step" }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, nn.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, nn.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for nil extractor, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Iterations != 50 || cfg.ContentWeight != 10 || cfg.StyleWeight != 1000 || cfg.LearningRate != 0.7 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.ContentLayer != "block5_conv2" || len(cfg.StyleLayers) != 3 {
		t.Errorf("Unexpected default layers %q %v", cfg.ContentLayer, cfg.StyleLayers)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := "iterations: 7\nstyle_weight: 500\noptimizer: rmsprop\nstyle_layers: [block1_conv1, block2_conv1]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Iterations != 7 || cfg.StyleWeight != 500 || cfg.Optimizer != "rmsprop" {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.ContentWeight != 10 || cfg.ContentLayer != "block5_conv2" {
		t.Errorf("Defaults not kept: %+v", cfg)
	}
	if len(cfg.StyleLayers) != 2 {
		t.Errorf("Expected 2 style layers, got %v", cfg.StyleLayers)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("iterations: -3\n"), 0o644)
	if _, err := LoadConfigFile(bad); !errors.Is(err, nn.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, nn.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for a missing file, got %v", err)
	}
}

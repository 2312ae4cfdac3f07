// Package palette extracts small colour palettes from images and measures
// how far apart two palettes are in CIE Lab space. It is used to report how
// much of the style image's colour scheme ended up in a result.
package palette

import (
	"image"
	"image/color"
	"math"
	"slices"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
)

// Method selects how palette candidates are found.
type Method int

const (
	Dominant Method = iota // weighted dominant colours
	KMeans                 // k-means clustering of sampled pixels
)

func (m Method) String() string {
	if m == KMeans {
		return "kmeans"
	}
	return "dominant"
}

// ParseMethod accepts "dominant" and "kmeans".
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "", "dominant", "dominantcolor":
		return Dominant, nil
	case "kmeans":
		return KMeans, nil
	}
	return Dominant, errors.Wrapf(nn.ErrInvalidConfig, "unknown palette method %q", name)
}

// maxSamples bounds the number of pixels fed to k-means.
const maxSamples = 12000

type candidate struct {
	col    colorful.Color
	weight float64
}

// Extract returns up to k well separated colours of img, strongest first.
// KMeans falls back to Dominant when clustering yields nothing.
func Extract(img image.Image, k int, m Method) ([]colorful.Color, error) {
	if k <= 0 {
		return nil, errors.Wrapf(nn.ErrInvalidConfig, "palette size %d", k)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(nn.ErrInvalidInput, "palette: empty image %v", b)
	}

	var cands []candidate
	if m == KMeans {
		var err error
		if cands, err = kmeansCandidates(img, k); err != nil {
			return nil, err
		}
	}
	if len(cands) == 0 {
		cands = dominantCandidates(img, k)
	}
	return selectDiverse(cands, k), nil
}

func dominantCandidates(img image.Image, k int) []candidate {
	found := dominantcolor.FindWeight(img, max(24, k*8))
	if len(found) == 0 {
		found = []dominantcolor.Color{{RGBA: color.RGBA{R: 128, G: 128, B: 128, A: 255}, Weight: 1}}
	}
	cands := make([]candidate, 0, len(found))
	for _, c := range found {
		col, _ := colorful.MakeColor(c.RGBA)
		cands = append(cands, candidate{col: col.Clamped(), weight: c.Weight})
	}
	return cands
}

func kmeansCandidates(img image.Image, k int) ([]candidate, error) {
	b := img.Bounds()
	step := 1
	if n := b.Dx() * b.Dy(); n > maxSamples {
		step = int(math.Sqrt(float64(n)/maxSamples)) + 1
	}

	var data clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			data = append(data, clusters.Coordinates{
				float64(r) / 0xffff,
				float64(g) / 0xffff,
				float64(bl) / 0xffff,
			})
		}
	}
	if len(data) == 0 {
		return nil, nil
	}

	km := kmeans.New()
	parts, err := km.Partition(data, min(k*4, len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "kmeans palette")
	}
	cands := make([]candidate, 0, len(parts))
	for _, c := range parts {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		cands = append(cands, candidate{col: col, weight: float64(len(c.Observations))})
	}
	return cands, nil
}

// selectDiverse starts from the heaviest candidate and then greedily adds
// the one farthest in Lab from everything chosen, favouring heavy colours.
func selectDiverse(cands []candidate, k int) []colorful.Color {
	if len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))
	maxW := 0.0
	for _, c := range cands {
		maxW = max(maxW, c.weight)
	}
	if maxW <= 0 {
		maxW = 1
	}

	chosen := make([]int, 0, k)
	used := make([]bool, len(cands))
	seed := 0
	for i, c := range cands {
		if c.weight > cands[seed].weight {
			seed = i
		}
	}
	chosen = append(chosen, seed)
	used[seed] = true

	for len(chosen) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if used[i] {
				continue
			}
			nearest := math.Inf(1)
			for _, s := range chosen {
				nearest = min(nearest, c.col.DistanceLab(cands[s].col))
			}
			w := max(c.weight, 1e-6) / maxW
			if score := nearest * (0.55 + 0.45*math.Sqrt(w)); score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		chosen = append(chosen, best)
		used[best] = true
	}

	out := make([]colorful.Color, len(chosen))
	for i, idx := range chosen {
		out[i] = cands[idx].col
	}
	return out
}

// SortByLuminance orders colours from darkest to brightest.
func SortByLuminance(p []colorful.Color) {
	slices.SortFunc(p, func(a, b colorful.Color) int {
		la, _, _ := a.Lab()
		lb, _, _ := b.Lab()
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	})
}

// Distance is the mean, over the colours of from, of the CIE76 ΔE to the
// nearest colour of to. It is 0 when every colour of from appears in to.
func Distance(from, to []colorful.Color) float64 {
	if len(from) == 0 || len(to) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, c := range from {
		nearest := math.Inf(1)
		for _, d := range to {
			nearest = min(nearest, c.DistanceCIE76(d)*100)
		}
		sum += nearest
	}
	return sum / float64(len(from))
}

// Swatch renders p as a row of tile x tile squares.
func Swatch(p []colorful.Color, tile int) *image.NRGBA {
	if tile <= 0 {
		tile = 64
	}
	img := image.NewNRGBA(image.Rect(0, 0, tile*max(len(p), 1), tile))
	for i, c := range p {
		r, g, b := c.Clamped().RGB255()
		fill := color.NRGBA{R: r, G: g, B: b, A: 255}
		for y := 0; y < tile; y++ {
			for x := i * tile; x < (i+1)*tile; x++ {
				img.SetNRGBA(x, y, fill)
			}
		}
	}
	return img
}

package palette

import (
	"image"
	"log/slog"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Report compares the palette of a style transfer result with the palettes
// of its inputs.
type Report struct {
	Content []colorful.Color
	Style   []colorful.Color
	Result  []colorful.Color

	// StyleDistance is Distance(Style, Result): how much of the style
	// palette is missing from the result. Lower means better transfer.
	StyleDistance float64

	// ContentDistance is Distance(Content, Result).
	ContentDistance float64
}

// Compare extracts k-colour palettes of the three images.
func Compare(content, style, result image.Image, k int, m Method) (Report, error) {
	var r Report
	var err error
	if r.Content, err = Extract(content, k, m); err != nil {
		return r, errors.WithMessage(err, "content palette")
	}
	if r.Style, err = Extract(style, k, m); err != nil {
		return r, errors.WithMessage(err, "style palette")
	}
	if r.Result, err = Extract(result, k, m); err != nil {
		return r, errors.WithMessage(err, "result palette")
	}
	r.StyleDistance = Distance(r.Style, r.Result)
	r.ContentDistance = Distance(r.Content, r.Result)
	return r, nil
}

func hexes(p []colorful.Color) []string {
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Clamped().Hex()
	}
	return out
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("style_delta_e", r.StyleDistance),
		slog.Float64("content_delta_e", r.ContentDistance),
		slog.Any("style", hexes(r.Style)),
		slog.Any("result", hexes(r.Result)),
	)
}

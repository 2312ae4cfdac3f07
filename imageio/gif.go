package imageio

import (
	"image"
	"image/color/palette"
	"image/gif"
	"os"

	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Animation builds an animated GIF from a run history. Every is the frame
// stride (1 keeps every snapshot) and Delay the per-frame delay in 100ths
// of a second. The last snapshot is always included.
func Animation(frames []*nn.Tensor, every, delay int) (*gif.GIF, error) {
	if len(frames) == 0 {
		return nil, errors.Wrap(nn.ErrNotYetRun, "animation: empty history")
	}
	if every < 1 {
		every = 1
	}
	anim := &gif.GIF{}
	for i := 0; i < len(frames); i++ {
		if i%every != 0 && i != len(frames)-1 {
			continue
		}
		img, err := Deprocess(frames[i])
		if err != nil {
			return nil, errors.WithMessagef(err, "frame %d", i)
		}
		paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	return anim, nil
}

// SaveGIF writes frames as an animated GIF to path.
func SaveGIF(path string, frames []*nn.Tensor, every, delay int) error {
	anim, err := Animation(frames, every, delay)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

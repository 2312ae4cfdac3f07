// Package imageio converts between image files and the preprocessed image
// tensors consumed by VGG networks: [1, H, W, 3] float32 in BGR order with
// the ImageNet channel means subtracted from 0..255 values.
package imageio

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfluke/nst/nn"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads any registered raster format: JPEG, PNG, GIF, WebP, BMP or TIFF.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(nn.ErrInvalidInput, "decode image: %v", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(nn.ErrInvalidInput, "image has empty bounds %v", b)
	}
	return img, nil
}

// Open decodes the image file at path.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(nn.ErrInvalidInput, "open %s: %v", path, err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return img, nil
}

// Resize scales img so that its longer side is at most maxDim, keeping the
// aspect ratio. Images already small enough, and maxDim <= 0, return img.
func Resize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if maxDim <= 0 || long <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(long)
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return dst
}

// Load opens path, resizes it to maxDim and preprocesses it.
func Load(path string, maxDim int) (*nn.Tensor, error) {
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(Resize(img, maxDim)), nil
}

// Preprocess converts img to a [1, H, W, 3] BGR tensor with the channel
// means subtracted. Alpha is dropped.
func Preprocess(img image.Image) *nn.Tensor {
	b := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)

	t := nn.NewImageTensor(b.Dy(), b.Dx(), 3)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := rgba.PixOffset(x, y)
			i := t.Index(y, x, 0)
			t.Data[i] = float32(rgba.Pix[p+2]) - nn.MeanBGR[0]
			t.Data[i+1] = float32(rgba.Pix[p+1]) - nn.MeanBGR[1]
			t.Data[i+2] = float32(rgba.Pix[p]) - nn.MeanBGR[2]
		}
	}
	return t
}

// Deprocess inverts Preprocess: it adds the means back, converts BGR to RGB
// and rounds and clips to 8 bits.
func Deprocess(t *nn.Tensor) (*image.NRGBA, error) {
	if err := nn.Validate("image", t, 3); err != nil {
		return nil, err
	}
	h, w, _ := t.Dims()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := t.Index(y, x, 0)
			img.SetNRGBA(x, y, color.NRGBA{
				R: toByte(t.Data[i+2] + nn.MeanBGR[2]),
				G: toByte(t.Data[i+1] + nn.MeanBGR[1]),
				B: toByte(t.Data[i] + nn.MeanBGR[0]),
				A: 255,
			})
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	r := math.Round(float64(v))
	switch {
	case r < 0:
		return 0
	case r > 255:
		return 255
	}
	return uint8(r)
}

// Save writes img as PNG or JPEG depending on the extension of path.
func Save(path string, img image.Image) error {
	var encode func(io.Writer, image.Image) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = png.Encode
	case ".jpg", ".jpeg":
		encode = func(w io.Writer, m image.Image) error {
			return jpeg.Encode(w, m, &jpeg.Options{Quality: 95})
		}
	default:
		return errors.Wrapf(nn.ErrInvalidInput, "unsupported output format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// SaveTensor deprocesses t and saves it like Save.
func SaveTensor(path string, t *nn.Tensor) error {
	img, err := Deprocess(t)
	if err != nil {
		return err
	}
	return Save(path, img)
}

// Package preprocess turns uploaded chest X-ray images into the fixed-shape
// tensor the classifier expects.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"
)

const (
	// ImageSize is the edge length, in pixels, of the square model input.
	ImageSize = 224
	// Channels is the number of colour channels fed to the model (RGB).
	Channels = 3

	// DefaultMaxPixels bounds width*height of an image before it is decoded.
	DefaultMaxPixels = 50_000_000
	// PreviewSize bounds the longest edge of a Thumbnail.
	PreviewSize = 320
)

// ErrInvalidImage is returned when uploaded bytes cannot be decoded into pixels.
var ErrInvalidImage = errors.New("invalid image")

// Interpolation is the single resampling policy used when resizing.
const Interpolation = resize.Bicubic

// Shape is the shape of every tensor produced by Preprocess: batch, height, width, channels.
func Shape() tensor.Shape {
	return tensor.Shape{1, ImageSize, ImageSize, Channels}
}

// Decode reads an image from r with the DefaultMaxPixels budget.
func Decode(r io.Reader) (image.Image, string, error) {
	return DecodeLimit(r, DefaultMaxPixels)
}

// DecodeLimit reads an image from r. The header is checked first, so images
// with more than maxPixels pixels are rejected before their pixels are
// allocated. A maxPixels of zero or less disables the check. Every failure is
// reported as ErrInvalidImage.
func DecodeLimit(r io.Reader, maxPixels int) (image.Image, string, error) {
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty %s image", ErrInvalidImage, format)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d %s image exceeds %d pixels",
			ErrInvalidImage, cfg.Width, cfg.Height, format, maxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty %s image", ErrInvalidImage, format)
	}
	return img, format, nil
}

// Preprocess converts img into a (1, 224, 224, 3) float32 tensor with values in [0,1].
// Steps always run in the same order: force RGB, resize, scale by 1/255, add batch axis.
func Preprocess(img image.Image) *tensor.Dense {
	rgb := ToRGB(img)
	resized := Resize(rgb)

	data := make([]float32, ImageSize*ImageSize*Channels)
	for y := 0; y < ImageSize; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < ImageSize; x++ {
			src := row[x*4:]
			dst := data[(y*ImageSize+x)*Channels:]
			dst[0] = float32(src[0]) / 255
			dst[1] = float32(src[1]) / 255
			dst[2] = float32(src[2]) / 255
		}
	}

	return tensor.New(tensor.WithShape(Shape()...), tensor.WithBacking(data))
}

// ToRGB returns an opaque copy of img. Alpha is discarded rather than composited,
// and grayscale is expanded to three equal channels.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// Resize scales img to ImageSize x ImageSize. An image that already has the
// target dimensions is returned untouched.
func Resize(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == ImageSize && b.Dy() == ImageSize {
		return img
	}

	resized := resize.Resize(ImageSize, ImageSize, img, Interpolation)
	if out, ok := resized.(*image.NRGBA); ok && out.Rect.Min == (image.Point{}) {
		return out
	}
	// resize keeps NRGBA for NRGBA input; the fallback covers any other result type.
	return ToRGB(resized)
}

// Thumbnail scales img down to fit a PreviewSize square, keeping its aspect
// ratio. Smaller images are returned as they are.
func Thumbnail(img image.Image) image.Image {
	return resize.Thumbnail(PreviewSize, PreviewSize, img, resize.Bilinear)
}

// Values returns the backing float32 slice of a tensor built by Preprocess.
func Values(t *tensor.Dense) ([]float32, bool) {
	data, ok := t.Data().([]float32)
	return data, ok
}

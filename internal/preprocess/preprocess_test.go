package preprocess

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: uint8(x + y), A: 0xff})
		}
	}
	return img
}

func requireTensorContract(t *testing.T, img image.Image) []float32 {
	t.Helper()

	out := Preprocess(img)
	require.True(t, out.Shape().Eq(Shape()), "shape %v", out.Shape())

	data, ok := Values(out)
	require.True(t, ok)
	require.Len(t, data, ImageSize*ImageSize*Channels)
	for i, v := range data {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of range: %f", i, v)
		}
	}
	return data
}

func TestPreprocess_ShapeAndRange(t *testing.T) {
	cases := map[string]image.Image{
		"rgb small":     gradientRGBA(17, 31),
		"rgb large":     gradientRGBA(640, 480),
		"rgb exact":     gradientRGBA(ImageSize, ImageSize),
		"gray":          image.NewGray(image.Rect(0, 0, 300, 300)),
		"gray16":        image.NewGray16(image.Rect(0, 0, 50, 120)),
		"nrgba":         image.NewNRGBA(image.Rect(0, 0, 224, 100)),
		"offset bounds": gradientRGBA(300, 300).SubImage(image.Rect(40, 40, 250, 260)),
		"paletted":      image.NewPaletted(image.Rect(0, 0, 64, 64), color.Palette{color.Black, color.White}),
		"single pixel":  gradientRGBA(1, 1),
		"ycbcr":         image.NewYCbCr(image.Rect(0, 0, 128, 96), image.YCbCrSubsampleRatio420),
	}

	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			requireTensorContract(t, img)
		})
	}
}

func TestPreprocess_ExactSizeKeepsPixels(t *testing.T) {
	src := gradientRGBA(ImageSize, ImageSize)
	data := requireTensorContract(t, src)

	for _, p := range []image.Point{{0, 0}, {10, 20}, {223, 223}, {100, 7}} {
		c := src.RGBAAt(p.X, p.Y)
		i := (p.Y*ImageSize + p.X) * Channels
		assert.Equal(t, float32(c.R)/255, data[i], "R at %v", p)
		assert.Equal(t, float32(c.G)/255, data[i+1], "G at %v", p)
		assert.Equal(t, float32(c.B)/255, data[i+2], "B at %v", p)
	}
}

func TestPreprocess_DiscardsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, ImageSize, ImageSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 255
		img.Pix[i+1] = 128
		img.Pix[i+2] = 0
		img.Pix[i+3] = 0
	}

	data := requireTensorContract(t, img)
	assert.Equal(t, float32(1), data[0])
	assert.Equal(t, float32(128)/255, data[1])
	assert.Equal(t, float32(0), data[2])
}

func TestPreprocess_ExpandsGrayscale(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	for i := range img.Pix {
		img.Pix[i] = 51
	}

	data := requireTensorContract(t, img)
	for c := 0; c < Channels; c++ {
		assert.Equal(t, float32(51)/255, data[c])
	}
}

func TestPreprocess_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradientRGBA(333, 211)))
	raw := buf.Bytes()

	run := func() []float32 {
		img, _, err := Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		data, ok := Values(Preprocess(img))
		require.True(t, ok)
		return data
	}

	assert.Equal(t, run(), run())
}

func TestResize_RoundTripDimensions(t *testing.T) {
	out := Resize(ToRGB(gradientRGBA(ImageSize, ImageSize)))
	assert.Equal(t, ImageSize, out.Bounds().Dx())
	assert.Equal(t, ImageSize, out.Bounds().Dy())

	out = Resize(ToRGB(gradientRGBA(1000, 10)))
	assert.Equal(t, image.Rect(0, 0, ImageSize, ImageSize), out.Bounds())
}

func TestDecode(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, gradientRGBA(40, 30)))

		img, format, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 40, img.Bounds().Dx())
	})

	t.Run("jpeg", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, gradientRGBA(64, 64), nil))

		_, format, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader([]byte("definitely not an image")))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("truncated png", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, gradientRGBA(40, 30)))

		_, _, err := Decode(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}

// pngHeader returns a PNG signature and IHDR chunk for a w x h 8-bit grayscale
// image. That is all DecodeConfig reads; the pixel data never follows.
func pngHeader(w, h uint32) []byte {
	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func TestDecode_PixelBudget(t *testing.T) {
	t.Run("oversized header is rejected before decoding", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(pngHeader(20000, 20000)))
		require.ErrorIs(t, err, ErrInvalidImage)
		assert.Contains(t, err.Error(), "20000x20000")
	})

	t.Run("custom limit", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 11, 10))))

		_, _, err := DecodeLimit(bytes.NewReader(buf.Bytes()), 100)
		assert.ErrorIs(t, err, ErrInvalidImage)

		img, _, err := DecodeLimit(bytes.NewReader(buf.Bytes()), 110)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 11, 10), img.Bounds())
	})

	t.Run("zero disables the check", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, gradientRGBA(300, 200), nil))

		img, format, err := DecodeLimit(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 300, img.Bounds().Dx())
	})
}

func TestThumbnail(t *testing.T) {
	out := Thumbnail(gradientRGBA(1280, 640))
	assert.Equal(t, PreviewSize, out.Bounds().Dx())
	assert.Equal(t, PreviewSize/2, out.Bounds().Dy())

	small := gradientRGBA(50, 40)
	assert.Equal(t, small.Bounds(), Thumbnail(small).Bounds())
}

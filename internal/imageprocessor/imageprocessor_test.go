package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 200, A: 255})
		}
	}
	return img
}

func TestPrepareShapeAndRange(t *testing.T) {
	raw := encodePNG(t, gradientImage(320, 180))

	tensor, err := Prepare(raw, 224, false)
	require.NoError(t, err)
	assert.Equal(t, [3]int{224, 224, 3}, tensor.Shape())
	require.Len(t, tensor.Data, 224*224*3)

	var maxValue float32
	for _, v := range tensor.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(255))
		if v > maxValue {
			maxValue = v
		}
	}
	assert.Greater(t, maxValue, float32(1), "raw scale values expected")
}

func TestPrepareRescaleRatio(t *testing.T) {
	raw := encodePNG(t, gradientImage(64, 48))

	plain, err := Prepare(raw, 224, false)
	require.NoError(t, err)
	scaled, err := Prepare(raw, 224, true)
	require.NoError(t, err)

	for i := range plain.Data {
		assert.GreaterOrEqual(t, scaled.Data[i], float32(0))
		assert.LessOrEqual(t, scaled.Data[i], float32(1))
		assert.InDelta(t, plain.Data[i], scaled.Data[i]*255, 1e-3)
	}
}

func TestPrepareYieldsWholeChannelValues(t *testing.T) {
	raw := encodePNG(t, gradientImage(97, 61))

	tensor, err := Prepare(raw, 40, false)
	require.NoError(t, err)
	for i, v := range tensor.Data {
		if v != float32(math.Trunc(float64(v))) {
			t.Fatalf("value %d is not whole: %v", i, v)
		}
	}

	rescaled, err := Prepare(raw, 40, true)
	require.NoError(t, err)
	for i := range rescaled.Data {
		assert.InDelta(t, tensor.Data[i]/255, rescaled.Data[i], 1e-6)
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	raw := encodePNG(t, gradientImage(50, 70))

	first, err := Prepare(raw, 32, false)
	require.NoError(t, err)
	second, err := Prepare(raw, 32, false)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestPrepareGrayscaleReplicatesChannels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}

	tensor, err := Prepare(encodePNG(t, img), 8, false)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, tensor.At(y, x, 0), tensor.At(y, x, 1))
			assert.Equal(t, tensor.At(y, x, 1), tensor.At(y, x, 2))
		}
	}
}

func TestPrepareDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 100, 50, 0
	}

	tensor, err := Prepare(encodePNG(t, img), 4, false)
	require.NoError(t, err)
	assert.InDelta(t, 200, tensor.At(0, 0, 0), 1)
	assert.InDelta(t, 100, tensor.At(0, 0, 1), 1)
	assert.InDelta(t, 50, tensor.At(0, 0, 2), 1)
}

func TestPrepareDecodesJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradientImage(40, 40), nil))

	tensor, err := Prepare(buf.Bytes(), 10, true)
	require.NoError(t, err)
	assert.Len(t, tensor.Data, 10*10*3)
}

func TestPrepareRejectsMalformedBytes(t *testing.T) {
	_, err := Prepare([]byte("definitely not an image"), 224, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestPrepareRejectsInvalidSize(t *testing.T) {
	_, err := Prepare(encodePNG(t, gradientImage(4, 4)), 0, false)
	assert.Error(t, err)
}

func TestNestedMatchesLayout(t *testing.T) {
	tensor, err := Prepare(encodePNG(t, gradientImage(12, 12)), 6, false)
	require.NoError(t, err)

	nested := tensor.Nested()
	require.Len(t, nested, 6)
	require.Len(t, nested[0], 6)
	require.Len(t, nested[0][0], 3)
	assert.Equal(t, tensor.At(3, 4, 2), nested[3][4][2])
}

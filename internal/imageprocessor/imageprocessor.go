package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// Channels is the number of colour channels every tensor carries.
const Channels = 3

// ErrDecode is returned when the raw bytes are not a decodable image.
var ErrDecode = errors.New("decode image")

// Tensor is a Size x Size x 3 image in height, width, channel order.
type Tensor struct {
	Size int
	Data []float32
}

// Shape returns the tensor dimensions as [height, width, channels].
func (t *Tensor) Shape() [3]int {
	return [3]int{t.Size, t.Size, Channels}
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Size+x)*Channels+c]
}

// Nested converts the tensor into the nested list shape the prediction
// service expects for one instance.
func (t *Tensor) Nested() [][][]float32 {
	rows := make([][][]float32, t.Size)
	for y := range rows {
		row := make([][]float32, t.Size)
		for x := range row {
			offset := (y*t.Size + x) * Channels
			row[x] = t.Data[offset : offset+Channels : offset+Channels]
		}
		rows[y] = row
	}
	return rows
}

// Prepare decodes raw into an RGB tensor resized to size x size with
// bilinear interpolation. Aspect ratio is not preserved and downscaling is
// antialiased. The resized pixels are 8-bit, so without rescale every value
// is a whole number in [0, 255]; with rescale it is that value divided by 255.
//
// Grayscale input is replicated across the three channels. Alpha is dropped
// and the straight (non-premultiplied) colour is kept.
func Prepare(raw []byte, size int, rescale bool) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	resized := resize.Resize(uint(size), uint(size), flattenRGB(img), resize.Bilinear)
	rgba, ok := resized.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(resized.Bounds())
		draw.Draw(rgba, rgba.Bounds(), resized, resized.Bounds().Min, draw.Src)
	}

	scale := float32(1)
	if rescale {
		scale = 255
	}

	tensor := &Tensor{Size: size, Data: make([]float32, size*size*Channels)}
	bounds := rgba.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			src := rgba.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			dst := (y*size + x) * Channels
			for c := 0; c < Channels; c++ {
				tensor.Data[dst+c] = float32(rgba.Pix[src+c]) / scale
			}
		}
	}
	return tensor, nil
}

// flattenRGB copies img into an opaque RGBA image holding the straight colour
// values of every pixel.
func flattenRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

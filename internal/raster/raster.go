package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/maxischmaxi/chatsnap/internal/logging"
	"go.uber.org/zap"
)

// Image is a decoded capture: interleaved, non-premultiplied 8-bit RGBA
// with len(Pix) == 4*Width*Height.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

type Pixel [4]uint8

func New(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]uint8, 4*width*height)}
}

// FromImage copies any image.Image into an Image.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), src, b.Min, draw.Src)
	return &Image{Width: b.Dx(), Height: b.Dy(), Pix: n.Pix}
}

// NRGBA views img as an image.NRGBA sharing its buffer.
func (img *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Pix[:4*img.Width*img.Height],
		Stride: 4 * img.Width,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

func (img *Image) inside(x, y int) bool {
	return x >= 0 && x < img.Width && y >= 0 && y < img.Height
}

// At returns the pixel at (x, y) and false when out of range.
func (img *Image) At(x, y int) (Pixel, bool) {
	if !img.inside(x, y) {
		return Pixel{}, false
	}
	i := 4 * (y*img.Width + x)
	return Pixel{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}, true
}

func (img *Image) Set(x, y int, p Pixel) {
	if !img.inside(x, y) {
		return
	}
	i := 4 * (y*img.Width + x)
	copy(img.Pix[i:i+4], p[:])
}

// Fill paints the rectangle [x0,x1)x[y0,y1) with p.
func (img *Image) Fill(x0, y0, x1, y1 int, p Pixel) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, p)
		}
	}
}

// Crop shrinks img in place to the rectangle at the origin with the given
// size, clamped to the current bounds. Rows only move toward the start of
// the buffer, so the compaction never overwrites unread data.
func (img *Image) Crop(width, height int) {
	width = max(0, min(width, img.Width))
	height = max(0, min(height, img.Height))
	if width == img.Width {
		img.Height = height
		img.Pix = img.Pix[:4*width*height]
		return
	}
	for y := 0; y < height; y++ {
		copy(img.Pix[4*y*width:4*(y+1)*width], img.Pix[4*y*img.Width:4*y*img.Width+4*width])
	}
	img.Width, img.Height = width, height
	img.Pix = img.Pix[:4*width*height]
}

func Decode(data []byte) (*Image, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		logging.L.Error("failed to decode PNG", zap.Int("bytes", len(data)), zap.Error(err))
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return FromImage(src), nil
}

func Encode(img *Image) ([]byte, error) {
	if len(img.Pix) != 4*img.Width*img.Height {
		return nil, errors.New("raster: buffer length does not match dimensions")
	}
	if img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("raster: cannot encode empty %dx%d image", img.Width, img.Height)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.NRGBA()); err != nil {
		logging.L.Error("failed to encode PNG", zap.Int("width", img.Width), zap.Int("height", img.Height), zap.Error(err))
		return nil, err
	}
	return buf.Bytes(), nil
}

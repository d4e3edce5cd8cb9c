package raster

import (
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"go.uber.org/zap"
)

// Bounds are inclusive content edges found by FindTrim.
type Bounds struct {
	Top, Left, Bottom, Right int
}

type TrimOptions struct {
	// Threshold is the Manhattan RGB distance above which a pixel counts as
	// content.
	Threshold int
	// MinWidth is the narrowest result Trim will produce.
	MinWidth int
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func active(p, bg Pixel, threshold int) bool {
	d := abs(int(p[0])-int(bg[0])) + abs(int(p[1])-int(bg[1])) + abs(int(p[2])-int(bg[2]))
	return d > threshold
}

func findEdge(sums []int) (int, int) {
	start, end := 0, len(sums)-1
	for start < len(sums) && sums[start] == 0 {
		start++
	}
	for end > start && sums[end] == 0 {
		end--
	}
	return start, end
}

// FindTrim bounds the pixels that differ from bg. When nothing differs the
// zero Bounds are returned.
func FindTrim(img *Image, bg Pixel, threshold int) Bounds {
	rows := make([]int, img.Height)
	cols := make([]int, img.Width)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			p, _ := img.At(x, y)
			if active(p, bg, threshold) {
				rows[y]++
				cols[x]++
			}
		}
	}

	top, bottom := findEdge(rows)
	left, right := findEdge(cols)
	if top > bottom || left > right {
		return Bounds{}
	}
	return Bounds{Top: top, Left: left, Bottom: bottom, Right: right}
}

// Trim crops a message capture to its content width. The background is
// sampled at (0,0); a bottom-left pixel that differs from it marks a one
// pixel rendering artifact on the last row, which is dropped.
func Trim(img *Image, opts TrimOptions) Bounds {
	if img.Width == 0 || img.Height == 0 {
		return Bounds{}
	}

	bg, _ := img.At(0, 0)
	if last, _ := img.At(0, img.Height-1); last != bg {
		img.Height--
		img.Pix = img.Pix[:4*img.Width*img.Height]
	}

	b := FindTrim(img, bg, opts.Threshold)
	width := max(b.Left+b.Right+2, opts.MinWidth)

	logging.L.Debug("trimming capture",
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int("left", b.Left),
		zap.Int("right", b.Right),
		zap.Int("newWidth", width),
	)

	img.Crop(width, img.Height)
	return b
}

// TrimPNG decodes, trims and re-encodes a PNG capture.
func TrimPNG(data []byte, opts TrimOptions) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	Trim(img, opts)
	return Encode(img)
}

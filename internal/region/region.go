// Package region computes capture rectangles from element bounding boxes.
package region

import (
	"math"

	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/tools"
)

// SizeCap bounds every profile-picture field so it fits a signed 16-bit
// sidecar slot.
const SizeCap = 1 << 15

// Box is a bounding box in CSS pixels as reported by the browser.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b Box) Right() float64  { return b.X + b.Width }
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Rect is an integer rectangle, used as a capture clip and as the sidecar
// payload.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether b lies entirely inside r.
func (r Rect) Contains(b Box) bool {
	return float64(r.X) <= b.X && float64(r.Y) <= b.Y &&
		float64(r.X+r.Width) >= b.Right() && float64(r.Y+r.Height) >= b.Bottom()
}

// Enclose returns the smallest rectangle containing every non-nil box.
// The enclosing bottom edge must not pass viewportHeight: multi-message
// captures only work when the whole span is already on screen.
func Enclose(boxes []*Box, viewportHeight int) (Rect, error) {
	var (
		found                  bool
		minX, minY, maxX, maxY float64
	)
	for _, b := range boxes {
		if b == nil {
			continue
		}
		if !found {
			minX, minY, maxX, maxY = b.X, b.Y, b.Right(), b.Bottom()
			found = true
			continue
		}
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
		maxX = math.Max(maxX, b.Right())
		maxY = math.Max(maxY, b.Bottom())
	}
	if !found {
		return Rect{}, apperr.ErrNoBoundingBoxes
	}

	if maxY > float64(viewportHeight) {
		return Rect{}, apperr.ErrRegionTooTall.With(map[string]any{
			"maxY":         maxY,
			"windowHeight": viewportHeight,
		})
	}

	// outward rounding keeps fractional boxes inside
	x, y := math.Floor(minX), math.Floor(minY)
	return Rect{
		X:      int(x),
		Y:      int(y),
		Width:  int(math.Ceil(maxX) - x),
		Height: int(math.Ceil(maxY) - y),
	}, nil
}

// ProfilePicture returns the avatar rectangle relative to its message.
// A nil avatar (message grouped under a previous one) yields the zero Rect.
func ProfilePicture(message, avatar *Box) Rect {
	var x, y, w, h float64
	if message != nil && avatar != nil {
		x = avatar.X - message.X
		y = avatar.Y - message.Y
		w, h = avatar.Width, avatar.Height
	}
	return Rect{
		X:      capped(x),
		Y:      capped(y),
		Width:  capped(w),
		Height: capped(h),
	}
}

func capped(v float64) int {
	return int(math.Floor(tools.Clamp(v, -SizeCap, SizeCap-1)))
}

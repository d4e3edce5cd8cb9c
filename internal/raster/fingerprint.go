package raster

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/corona10/goimagehash"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// Fingerprint returns a perceptual hash of img, stable across small
// rendering differences, so callers can spot repeated captures.
func Fingerprint(img image.Image) (string, error) {
	// resize to a stable small size
	small := resize.Resize(256, 0, img, resize.Lanczos3)

	h, err := goimagehash.PerceptionHash(small)
	if err != nil {
		logging.L.Error("failed to compute pHash", zap.Error(err))
		return "", err
	}
	return h.ToString(), nil
}

// FingerprintPNG hashes the PNG at the start of r. Bytes after the PNG end
// chunk, such as a sidecar record, are ignored.
func FingerprintPNG(r io.Reader) (string, error) {
	img, err := png.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode png: %w", err)
	}
	return Fingerprint(img)
}

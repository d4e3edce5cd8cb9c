// Package sidecar encodes small integer records that are appended directly
// after the image bytes of a capture file.
//
// A record is a run of two-byte big-endian signed integers with no length
// prefix or delimiter; a reader must know the field count to read it back
// from the tail of the file.
package sidecar

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/maxischmaxi/chatsnap/internal/region"
)

const FieldSize = 2

// RectFields is the number of fields EncodeRect writes.
const RectFields = 4

func Encode(fields ...int) ([]byte, error) {
	buf := make([]byte, len(fields)*FieldSize)
	for i, v := range fields {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("sidecar: field %d value %d out of int16 range", i, v)
		}
		binary.BigEndian.PutUint16(buf[i*FieldSize:], uint16(int16(v)))
	}
	return buf, nil
}

// EncodeRect writes x, y, width, height in that order.
func EncodeRect(r region.Rect) ([]byte, error) {
	return Encode(r.X, r.Y, r.Width, r.Height)
}

// Decode reads n fields from the last n*2 bytes of data.
func Decode(data []byte, n int) ([]int, error) {
	size := n * FieldSize
	if n < 0 || len(data) < size {
		return nil, fmt.Errorf("sidecar: need %d bytes, have %d", size, len(data))
	}
	tail := data[len(data)-size:]
	out := make([]int, n)
	for i := range out {
		out[i] = int(int16(binary.BigEndian.Uint16(tail[i*FieldSize:])))
	}
	return out, nil
}

func DecodeRect(data []byte) (region.Rect, error) {
	f, err := Decode(data, RectFields)
	if err != nil {
		return region.Rect{}, err
	}
	return region.Rect{X: f[0], Y: f[1], Width: f[2], Height: f[3]}, nil
}

// Append writes the record for r to w.
func Append(w io.Writer, r region.Rect) error {
	b, err := EncodeRect(r)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

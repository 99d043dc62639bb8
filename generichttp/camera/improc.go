// this file contains a few small image processing utilities
package camera

import "image"

// Stretch maps the [min, max] range of a 16-bit strided buffer onto 8 bits.
// A flat frame maps to black.
func Stretch(buf []uint16, width, height int) *image.Gray {
	out := &image.Gray{Pix: make([]byte, len(buf)), Stride: width, Rect: image.Rect(0, 0, width, height)}
	if len(buf) == 0 {
		return out
	}
	lo, hi := buf[0], buf[0]
	for _, v := range buf {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := float64(hi - lo)
	if span == 0 {
		return out
	}
	for idx, v := range buf {
		out.Pix[idx] = byte(float64(v-lo) / span * 255)
	}
	return out
}

// Package ascii converts rgb24 frames to glyph frames.
package ascii

import (
	"errors"
	"fmt"
)

// DefaultRamp glyphs ordered from dark to bright.
const DefaultRamp = " .'`^\",:;Il!i><~+_-?][}{1)(|\\/tfjrxnuvczXYUJCLQ0OZmwqpdbkhao*#MW&8%B@$"

// Errors.
var (
	ErrRampTooShort = errors.New("ramp must have at least two glyphs")
	ErrRampNotASCII = errors.New("ramp must only contain printable ASCII")
	ErrSize         = errors.New("size mismatch")
)

// Converter maps pixel brightness to glyphs.
type Converter struct {
	ramp []byte
}

// NewConverter returns a converter for ramp. An empty ramp selects
// the default ramp.
func NewConverter(ramp string) (*Converter, error) {
	if ramp == "" {
		ramp = DefaultRamp
	}
	if len(ramp) < 2 {
		return nil, ErrRampTooShort
	}
	for i := 0; i < len(ramp); i++ {
		if ramp[i] < ' ' || ramp[i] > '~' {
			return nil, fmt.Errorf("%w: %q at %d", ErrRampNotASCII, ramp[i], i)
		}
	}
	return &Converter{ramp: []byte(ramp)}, nil
}

// Glyph returns the glyph for a pixel.
func (c *Converter) Glyph(r, g, b uint8) byte {
	// Rec. 601 luma, truncated.
	luma := (299*uint64(r) + 587*uint64(g) + 114*uint64(b)) / 1000
	return c.ramp[luma*uint64(len(c.ramp)-1)/255]
}

// Convert converts a rgb24 frame to glyphs. len(dst) pixels are read
// from rgb, which must be exactly three times as long.
func (c *Converter) Convert(dst []byte, rgb []byte) error {
	if len(rgb) != len(dst)*3 {
		return fmt.Errorf("%w: %d rgb bytes for %d glyphs", ErrSize, len(rgb), len(dst))
	}
	for i := range dst {
		p := rgb[i*3 : i*3+3]
		dst[i] = c.Glyph(p[0], p[1], p[2])
	}
	return nil
}

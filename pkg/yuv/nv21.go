// Package yuv converts semi-planar 4:2:0 frames to packed 24-bit BGR.
package yuv

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrNullBuffer        = errors.New("missing buffer")
	ErrShortBuffer       = errors.New("buffer too small")
	ErrInvalidOffset     = errors.New("invalid chroma offset")
)

// Converter reads each 2x2 block's chroma pair from the interleaved plane.
// UOffset and VOffset select which byte of the pair is U (Cb) and which is V
// (Cr). NV21 stores V first.
type Converter struct {
	UOffset int
	VOffset int
}

// NV21 is the layout the capture device is configured for.
var NV21 = Converter{UOffset: 1, VOffset: 0}

// NV12 swaps the pair for sensors that deliver U first.
var NV12 = Converter{UOffset: 0, VOffset: 1}

func (c Converter) Validate() error {
	if c.UOffset < 0 || c.UOffset > 1 || c.VOffset < 0 || c.VOffset > 1 || c.UOffset == c.VOffset {
		return fmt.Errorf("%w: u=%d v=%d", ErrInvalidOffset, c.UOffset, c.VOffset)
	}
	return nil
}

// ChromaSize is the byte length of the interleaved chroma plane.
func ChromaSize(width, height int) int {
	return (height >> 1) * (width >> 1) * 2
}

// FrameSize is the packed size of one frame: luma followed by chroma.
func FrameSize(width, height int) int {
	return width*height + ChromaSize(width, height)
}

// Convert returns a freshly allocated width*height*3 BGR image, rows top-down.
func (c Converter) Convert(luma, chroma []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if luma == nil || chroma == nil {
		return nil, ErrNullBuffer
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(luma) < width*height {
		return nil, fmt.Errorf("%w: luma has %d bytes, need %d", ErrShortBuffer, len(luma), width*height)
	}
	if need := chromaNeeded(width, height); len(chroma) < need {
		return nil, fmt.Errorf("%w: chroma has %d bytes, need %d", ErrShortBuffer, len(chroma), need)
	}

	out := make([]byte, width*height*3)
	half := width >> 1
	o := 0
	for y := 0; y < height; y++ {
		row := (y >> 1) * half
		for x := 0; x < width; x++ {
			yv := int(luma[y*width+x])
			ci := (row + (x >> 1)) << 1
			u := int(chroma[ci+c.UOffset])
			v := int(chroma[ci+c.VOffset])

			out[o] = clamp(yv + (7289*u)>>12 - 228)
			out[o+1] = clamp(yv - (1415*u)>>12 - (2936*v)>>12 + 136)
			out[o+2] = clamp(yv + (5765*v)>>12 - 180)
			o += 3
		}
	}

	return out, nil
}

// chromaNeeded is the highest chroma byte Convert reads, plus one. Odd widths
// and heights sample one pair past the nominal plane.
func chromaNeeded(width, height int) int {
	return (((height-1)>>1)*(width>>1) + ((width - 1) >> 1) + 1) << 1
}

// SplitNV21 cuts a single contiguous frame into its luma and chroma planes.
func SplitNV21(plane []byte, width, height int) (luma, chroma []byte, err error) {
	if width <= 0 || height <= 0 {
		return nil, nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if plane == nil {
		return nil, nil, ErrNullBuffer
	}
	n := width * height
	if len(plane) < n {
		return nil, nil, fmt.Errorf("%w: frame has %d bytes, need at least %d", ErrShortBuffer, len(plane), n)
	}
	return plane[:n:n], plane[n:], nil
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

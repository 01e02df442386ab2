// Package frame holds the raw raster type shared by the camera drivers, the
// capture pipeline, the stack accumulator and the display renderer.
package frame

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrDimensionMismatch is returned when two rasters that must share a shape do not.
var ErrDimensionMismatch = errors.New("frame dimensions do not match")

// Frame is a single-plane raw raster. Samples are stored row-major in Pix
// using 16-bit containers regardless of the sensor's effective bit depth.
//
// A Frame is immutable once it has been handed to the capture pipeline.
type Frame struct {
	Width     int
	Height    int
	BitDepth  int
	Pix       []uint16
	Timestamp time.Time
	Seq       uint64
}

// New allocates a zeroed frame.
func New(width, height, bitDepth int) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		BitDepth:  bitDepth,
		Pix:       make([]uint16, width*height),
		Timestamp: time.Now(),
	}
}

// Filled returns a frame with every sample set to v.
func Filled(width, height, bitDepth int, v uint16) *Frame {
	f := New(width, height, bitDepth)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// MaxValue is the largest sample value representable at the frame's bit depth.
func (f *Frame) MaxValue() uint16 {
	if f.BitDepth <= 0 || f.BitDepth >= 16 {
		return 0xFFFF
	}
	return uint16(1<<f.BitDepth - 1)
}

// At returns the sample at (x, y).
func (f *Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Bounds returns the raster rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// SameShape reports whether f and o have identical dimensions.
func (f *Frame) SameShape(o *Frame) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height
}

// Validate checks that Pix matches the declared dimensions.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("frame has %d samples, want %d", len(f.Pix), f.Width*f.Height)
	}
	return nil
}

// Gray16 wraps the samples as an image.Gray16 (big-endian per the image package).
func (f *Frame) Gray16() *image.Gray16 {
	img := image.NewGray16(f.Bounds())
	for i, v := range f.Pix {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

// FromImage converts any decoded image into a frame using its 16-bit luminance.
func FromImage(img image.Image, bitDepth int) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy(), bitDepth)
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < f.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+2*f.Width]
			for x := 0; x < f.Width; x++ {
				f.Pix[y*f.Width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
		return f
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R 601 luma on 16-bit channels.
			lum := (19595*r + 38470*g + 7471*bl + 1<<15) >> 16
			f.Pix[y*f.Width+x] = uint16(lum)
		}
	}
	return f
}

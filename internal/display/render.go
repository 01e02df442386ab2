// Package display derives 8-bit preview rasters from raw frames or stack
// snapshots. It only reads capture and stack state.
package display

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	MinThreshold = 10
	MaxThreshold = 250
)

// Params is one consistent set of rendering parameters.
type Params struct {
	Alpha       float64
	Beta        float64
	Scale       int
	Center      image.Point
	HalfWidth   int
	ThresholdOn bool
	Threshold   uint8
}

// ClampThreshold limits v to the slider range.
func ClampThreshold(v int) uint8 {
	switch {
	case v < MinThreshold:
		return MinThreshold
	case v > MaxThreshold:
		return MaxThreshold
	}
	return uint8(v)
}

type sample interface {
	~uint16 | ~float64
}

// Levels maps every sample through clip(alpha*v + beta, 0, 255).
func Levels[T sample](pix []T, width, height int, alpha, beta float64) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range pix[:width*height] {
		out.Pix[i] = clip8(alpha*float64(v) + beta)
	}
	return out
}

func clip8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// Downscale shrinks img by an integer factor with bilinear filtering.
func Downscale(img *image.Gray, factor int) *image.Gray {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	w, h := max(b.Dx()/factor, 1), max(b.Dy()/factor, 1)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// ZoomRect returns the square of half width hw centred on c, shifted so it
// lies inside bounds. When bounds are smaller than the square the result is
// bounds itself.
func ZoomRect(c image.Point, hw int, bounds image.Rectangle) image.Rectangle {
	c = ClampCenter(c, hw, bounds)
	r := image.Rect(c.X-hw, c.Y-hw, c.X+hw, c.Y+hw)
	return r.Intersect(bounds)
}

// ClampCenter moves c so a window of half width hw stays inside bounds.
func ClampCenter(c image.Point, hw int, bounds image.Rectangle) image.Point {
	return image.Pt(clampAxis(c.X, hw, bounds.Min.X, bounds.Max.X), clampAxis(c.Y, hw, bounds.Min.Y, bounds.Max.Y))
}

func clampAxis(v, hw, lo, hi int) int {
	if hi-lo <= 2*hw {
		return lo + (hi-lo)/2
	}
	return min(max(v, lo+hw), hi-hw)
}

// Crop copies r out of img into a new zero-origin raster.
func Crop(img *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(out, image.Point{}, img, r, draw.Src, nil)
	return out
}

// Threshold sets every pixel to 255 when it exceeds t and to 0 otherwise.
func Threshold(img *image.Gray, t uint8) {
	for i, v := range img.Pix {
		if v > t {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
}

// Render runs levels, downscale and zoom on one source raster.
func Render[T sample](pix []T, width, height int, p Params) (preview, zoom *image.Gray) {
	full := Levels(pix, width, height, p.Alpha, p.Beta)
	zoom = Crop(full, ZoomRect(p.Center, p.HalfWidth, full.Bounds()))
	if p.ThresholdOn {
		Threshold(zoom, p.Threshold)
	}
	return Downscale(full, p.Scale), zoom
}

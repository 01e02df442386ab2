package frame

import "fmt"

// SubtractDark returns clip(f - dark, 0, f.MaxValue()) as a new frame.
// The input frames are not modified.
func SubtractDark(f, dark *Frame) (*Frame, error) {
	if !f.SameShape(dark) {
		return nil, fmt.Errorf("%w: frame %dx%d, dark %dx%d", ErrDimensionMismatch, f.Width, f.Height, dark.Width, dark.Height)
	}
	out := &Frame{
		Width:     f.Width,
		Height:    f.Height,
		BitDepth:  f.BitDepth,
		Pix:       make([]uint16, len(f.Pix)),
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
	}
	limit := int32(f.MaxValue())
	for i, v := range f.Pix {
		d := int32(v) - int32(dark.Pix[i])
		switch {
		case d < 0:
			d = 0
		case d > limit:
			d = limit
		}
		out.Pix[i] = uint16(d)
	}
	return out, nil
}

// Package imaging reads and writes the rasters the rig persists: 16-bit
// grayscale TIFF stacks, dark frames and PNG previews.
package imaging

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/tiff"

	"astrorig/internal/frame"
	"astrorig/internal/fsutil"
)

// StackFileName returns PCIM<YYYYMMDDhhmmss>.tif for t.
func StackFileName(t time.Time) string {
	return "PCIM" + t.Format("20060102150405") + ".tif"
}

// EncodeTIFF16 writes f as a deflate-compressed 16-bit grayscale TIFF.
func EncodeTIFF16(w io.Writer, f *frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return tiff.Encode(w, f.Gray16(), &tiff.Options{Compression: tiff.Deflate})
}

// WriteTIFF16 atomically writes f to path.
func WriteTIFF16(path string, f *frame.Frame) error {
	err := fsutil.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := EncodeTIFF16(bw, f); err != nil {
			return err
		}
		return bw.Flush()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFrame loads an image file as a single-plane frame. TIFF and PNG are
// decoded natively; FITS, DNG and PGM go through ImageMagick.
func ReadFrame(path string, bitDepth int) (*frame.Frame, error) {
	if fsutil.NeedsMagick(path) {
		return readMagick(path, bitDepth)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, err := decode(bufio.NewReader(file), filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return frame.FromImage(img, bitDepth), nil
}

func decode(r io.Reader, ext string) (image.Image, error) {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Decode(r)
	default:
		return tiff.Decode(r)
	}
}

// EncodePNG writes an 8-bit raster for the web preview.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

package imaging

import (
	"fmt"
	"os"

	"gopkg.in/gographics/imagick.v3/imagick"

	"astrorig/internal/frame"
)

// readMagick converts path to a temporary 16-bit grayscale TIFF with
// ImageMagick and decodes that.
func readMagick(path string, bitDepth int) (*frame.Frame, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := wand.TransformImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, fmt.Errorf("grayscale %s: %w", path, err)
	}
	if err := wand.SetImageDepth(16); err != nil {
		return nil, fmt.Errorf("depth %s: %w", path, err)
	}

	tmp, err := os.CreateTemp("", "astrorig-dark-*.tif")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := wand.WriteImage("tiff:" + name); err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	return ReadFrame(name, bitDepth)
}

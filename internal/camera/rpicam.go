package camera

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"astrorig/internal/frame"
)

// RPiCamConfig configures the rpicam-raw backed driver.
type RPiCamConfig struct {
	Binary   string
	Width    int
	Height   int
	BitDepth int
	// Stride is the number of bytes per row in the tool's output. Zero means Width*2.
	Stride    int
	ExtraArgs []string
	// Timeout bounds each capture on top of the exposure time.
	Timeout time.Duration
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// RPiCam captures one unpacked raw frame per request by invoking rpicam-raw.
// Exposure and gain are read when each request starts.
type RPiCam struct {
	cfg      RPiCamConfig
	settings *Settings
	run      commandRunner
	seq      atomic.Uint64
	closed   atomic.Bool
}

// NewRPiCam checks that the capture tool is installed and returns the driver.
func NewRPiCam(cfg RPiCamConfig, settings *Settings) (*RPiCam, error) {
	if cfg.Binary == "" {
		cfg.Binary = "rpicam-raw"
	}
	if cfg.BitDepth <= 0 {
		cfg.BitDepth = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, cfg.Binary, err)
	}
	return &RPiCam{cfg: cfg, settings: settings, run: execRunner}, nil
}

func (c *RPiCam) args(exposure time.Duration, gain float64) []string {
	args := []string{
		"--nopreview",
		"--frames", "1",
		"--shutter", strconv.FormatInt(exposure.Microseconds(), 10),
		"--gain", strconv.FormatFloat(gain, 'f', 2, 64),
		"--awbgains", "1,1",
		"--denoise", "off",
		"--mode", fmt.Sprintf("%d:%d:%d:U", c.cfg.Width, c.cfg.Height, c.cfg.BitDepth),
		"-o", "-",
	}
	return append(args, c.cfg.ExtraArgs...)
}

// Next implements Source.
func (c *RPiCam) Next(ctx context.Context) (*frame.Frame, error) {
	if c.closed.Load() {
		return nil, ErrUnavailable
	}
	exposure := c.settings.Exposure()
	gain := c.settings.Gain()

	ctx, cancel := context.WithTimeout(ctx, exposure+c.cfg.Timeout)
	defer cancel()

	out, err := c.run(ctx, c.cfg.Binary, c.args(exposure, gain)...)
	if err != nil {
		return nil, err
	}
	f, err := decodeUnpacked(out, c.cfg.Width, c.cfg.Height, c.cfg.BitDepth, c.cfg.Stride)
	if err != nil {
		return nil, err
	}
	f.Seq = c.seq.Add(1)
	f.Timestamp = time.Now()
	return f, nil
}

// decodeUnpacked parses little-endian 16-bit samples laid out with the given row stride.
func decodeUnpacked(buf []byte, width, height, bitDepth, stride int) (*frame.Frame, error) {
	if stride <= 0 {
		stride = width * 2
	}
	if stride < width*2 {
		return nil, fmt.Errorf("stride %d shorter than row of %d samples", stride, width)
	}
	need := stride*(height-1) + width*2
	if len(buf) < need {
		return nil, fmt.Errorf("short raw frame: got %d bytes, want %d", len(buf), need)
	}
	f := frame.New(width, height, bitDepth)
	for y := 0; y < height; y++ {
		row := buf[y*stride:]
		for x := 0; x < width; x++ {
			f.Pix[y*width+x] = binary.LittleEndian.Uint16(row[2*x:])
		}
	}
	return f, nil
}

// SetExposure implements Source.
func (c *RPiCam) SetExposure(d time.Duration) error {
	if err := checkExposure(d); err != nil {
		return err
	}
	c.settings.SetExposure(d)
	return nil
}

// SetGain implements Source.
func (c *RPiCam) SetGain(g float64) error {
	c.settings.SetGain(g)
	return nil
}

// Close implements Source.
func (c *RPiCam) Close() error {
	c.closed.Store(true)
	return nil
}

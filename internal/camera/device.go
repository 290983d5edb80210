package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

// warmupFrames are read and dropped before the kept frame; the first frames
// after StartStreaming are often dark or partially exposed.
const warmupFrames = 3

// mjpeg is the V4L2 fourcc "MJPG". Each MJPEG frame is a complete JPEG.
var mjpeg = fourcc("MJPG")

// stream is the part of *webcam.Webcam a capture uses.
type stream interface {
	GetSupportedFormats() map[webcam.PixelFormat]string
	SetImageFormat(f webcam.PixelFormat, width, height uint32) (webcam.PixelFormat, uint32, uint32, error)
	StartStreaming() error
	WaitForFrame(timeout uint32) error
	ReadFrame() ([]byte, error)
	StopStreaming() error
	Close() error
}

// Device captures frames straight from a V4L2 video device in MJPEG mode.
// The device is opened per capture so other tools can use it in between.
type Device struct {
	path          string
	width, height uint32
	timeout       time.Duration

	open func(path string) (stream, error)
	mu   sync.Mutex
}

// NewDevice targets path (e.g. /dev/video0) at the requested resolution. The
// driver may pick the closest size it supports.
func NewDevice(path string, width, height uint32, timeout time.Duration) *Device {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Device{
		path:    path,
		width:   width,
		height:  height,
		timeout: timeout,
		open: func(path string) (stream, error) {
			return webcam.Open(path)
		},
	}
}

// Capture opens the device, streams a few frames and returns the last one.
func (d *Device) Capture(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cam, err := d.open(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNoFrame, d.path, err)
	}
	defer cam.Close()

	if _, ok := cam.GetSupportedFormats()[mjpeg]; !ok {
		return nil, fmt.Errorf("%w: %s does not offer MJPEG", ErrNoFrame, d.path)
	}
	if _, _, _, err := cam.SetImageFormat(mjpeg, d.width, d.height); err != nil {
		return nil, fmt.Errorf("%w: set format on %s: %v", ErrNoFrame, d.path, err)
	}
	if err := cam.StartStreaming(); err != nil {
		return nil, fmt.Errorf("%w: start streaming %s: %v", ErrNoFrame, d.path, err)
	}
	defer cam.StopStreaming()

	wait := uint32(d.timeout / time.Second)
	if wait == 0 {
		wait = 1
	}

	var frame []byte
	for kept := 0; kept <= warmupFrames; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
		err := cam.WaitForFrame(wait)
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return nil, fmt.Errorf("%w: %s timed out after %v", ErrNoFrame, d.path, d.timeout)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: wait for frame: %v", ErrNoFrame, err)
		}

		buf, err := cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: read frame: %v", ErrNoFrame, err)
		}
		if len(buf) == 0 {
			continue
		}
		// ReadFrame returns the driver's mmap buffer, reused on the next read.
		frame = append(frame[:0], buf...)
		kept++
	}

	if !isJPEG(frame) {
		return nil, fmt.Errorf("%w: frame from %s is not a JPEG image", ErrNoFrame, d.path)
	}
	return frame, nil
}

func fourcc(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

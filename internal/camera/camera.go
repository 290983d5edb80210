// Package camera grabs a single JPEG frame, either from a V4L2 device or by
// running an external capture tool that writes the image to stdout.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrNoFrame is returned when no usable image could be captured.
var ErrNoFrame = errors.New("cannot read from camera")

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// Camera captures one frame.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Command captures frames with an external program.
type Command struct {
	argv    []string
	timeout time.Duration
}

// NewCommand parses commandLine into argv. The command must print a JPEG to
// stdout, e.g. `fswebcam --no-banner -r 1280x720 --jpeg 90 -`.
func NewCommand(commandLine string, timeout time.Duration) (*Command, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, fmt.Errorf("camera command is empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Command{argv: argv, timeout: timeout}, nil
}

// Capture runs the tool once and returns the JPEG bytes.
func (c *Command) Capture(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %v: %s", ErrNoFrame, err, lastLine(msg))
		}
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	frame := stdout.Bytes()
	if !isJPEG(frame) {
		return nil, fmt.Errorf("%w: output is not a JPEG image", ErrNoFrame)
	}
	return frame, nil
}

// Fallback tries each camera in order and returns the first frame.
type Fallback []Camera

// Capture reports every failure when no camera produced a frame.
func (f Fallback) Capture(ctx context.Context) ([]byte, error) {
	if len(f) == 0 {
		return nil, fmt.Errorf("%w: no camera configured", ErrNoFrame)
	}
	var errs []error
	for _, cam := range f {
		frame, err := cam.Capture(ctx)
		if err == nil {
			return frame, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func isJPEG(frame []byte) bool { return bytes.HasPrefix(frame, jpegSOI) }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

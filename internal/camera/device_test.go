package camera

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blackjack/webcam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	formats   map[webcam.PixelFormat]string
	frames    [][]byte
	waitErr   error
	formatErr error

	setFormat webcam.PixelFormat
	setW      uint32
	setH      uint32
	reads     int
	streaming bool
	closed    bool
}

func (s *fakeStream) GetSupportedFormats() map[webcam.PixelFormat]string { return s.formats }

func (s *fakeStream) SetImageFormat(f webcam.PixelFormat, w, h uint32) (webcam.PixelFormat, uint32, uint32, error) {
	s.setFormat, s.setW, s.setH = f, w, h
	return f, w, h, s.formatErr
}

func (s *fakeStream) StartStreaming() error { s.streaming = true; return nil }

func (s *fakeStream) WaitForFrame(uint32) error { return s.waitErr }

func (s *fakeStream) ReadFrame() ([]byte, error) {
	if s.reads >= len(s.frames) {
		return nil, errors.New("no more frames")
	}
	f := s.frames[s.reads]
	s.reads++
	return f, nil
}

func (s *fakeStream) StopStreaming() error { s.streaming = false; return nil }

func (s *fakeStream) Close() error { s.closed = true; return nil }

func deviceWith(s *fakeStream) *Device {
	d := NewDevice("/dev/video0", 1280, 720, time.Second)
	d.open = func(string) (stream, error) { return s, nil }
	return d
}

func jpegFrame(b byte) []byte { return []byte{0xFF, 0xD8, 0xFF, 0xE0, b} }

func TestFourcc(t *testing.T) {
	assert.Equal(t, webcam.PixelFormat(0x47504A4D), fourcc("MJPG"))
}

func TestDevice_KeepsFrameAfterWarmup(t *testing.T) {
	s := &fakeStream{
		formats: map[webcam.PixelFormat]string{mjpeg: "Motion-JPEG"},
		frames:  [][]byte{jpegFrame(1), {}, jpegFrame(2), jpegFrame(3), jpegFrame(4), jpegFrame(5)},
	}

	frame, err := deviceWith(s).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jpegFrame(4), frame)
	assert.Equal(t, mjpeg, s.setFormat)
	assert.Equal(t, uint32(1280), s.setW)
	assert.Equal(t, uint32(720), s.setH)
	assert.False(t, s.streaming)
	assert.True(t, s.closed)
}

func TestDevice_NoMJPEG(t *testing.T) {
	s := &fakeStream{formats: map[webcam.PixelFormat]string{fourcc("YUYV"): "YUYV 4:2:2"}}

	_, err := deviceWith(s).Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
	assert.Contains(t, err.Error(), "does not offer MJPEG")
	assert.True(t, s.closed)
}

func TestDevice_Timeout(t *testing.T) {
	s := &fakeStream{
		formats: map[webcam.PixelFormat]string{mjpeg: "Motion-JPEG"},
		waitErr: &webcam.Timeout{},
	}

	_, err := deviceWith(s).Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDevice_NotJPEG(t *testing.T) {
	raw := []byte{0x10, 0x80, 0x10, 0x80}
	s := &fakeStream{
		formats: map[webcam.PixelFormat]string{mjpeg: "Motion-JPEG"},
		frames:  [][]byte{raw, raw, raw, raw},
	}

	_, err := deviceWith(s).Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestDevice_Missing(t *testing.T) {
	d := NewDevice("/dev/no-such-video-device", 640, 480, time.Second)

	_, err := d.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
	assert.Contains(t, err.Error(), "/dev/no-such-video-device")
}

type stubCamera struct {
	frame []byte
	err   error
	calls int
}

func (c *stubCamera) Capture(context.Context) ([]byte, error) {
	c.calls++
	return c.frame, c.err
}

func TestFallback_FirstSuccessWins(t *testing.T) {
	broken := &stubCamera{err: errors.New("device busy")}
	working := &stubCamera{frame: jpegFrame(9)}
	unused := &stubCamera{frame: jpegFrame(1)}

	frame, err := Fallback{broken, working, unused}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jpegFrame(9), frame)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 0, unused.calls)
}

func TestFallback_ReportsEveryFailure(t *testing.T) {
	first := &stubCamera{err: fmt.Errorf("%w: device busy", ErrNoFrame)}
	second := &stubCamera{err: fmt.Errorf("%w: fswebcam missing", ErrNoFrame)}

	_, err := Fallback{first, second}.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
	assert.Contains(t, err.Error(), "device busy")
	assert.Contains(t, err.Error(), "fswebcam missing")
}

func TestFallback_Empty(t *testing.T) {
	_, err := Fallback{}.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrUnavailable is returned when a capture or playback device cannot be acquired.
var ErrUnavailable = errors.New("audio device unavailable")

const (
	KindFFmpeg = "ffmpeg"
	KindWAV    = "wav"
)

// Provider acquires audio devices. Capture streams are mono 32-bit float
// little-endian samples; playback streams take mono 16-bit little-endian PCM.
type Provider interface {
	OpenCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error)
	OpenPlayback(ctx context.Context, sampleRate int) (io.WriteCloser, error)
}

type Config struct {
	Kind string

	// ffmpeg
	InputFormat  string
	InputDevice  string
	ProbeTimeout time.Duration

	// wav
	WAVInputPath  string
	WAVOutputPath string
}

func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindFFmpeg:
		return NewFFmpegProvider(cfg), nil
	case KindWAV:
		return NewFileProvider(cfg.WAVInputPath, cfg.WAVOutputPath), nil
	default:
		return nil, fmt.Errorf("unsupported audio device %q (expected ffmpeg|wav)", cfg.Kind)
	}
}

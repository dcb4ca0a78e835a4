package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 3 * time.Second

// FFmpegProvider captures from the system microphone with ffmpeg and plays
// through ffplay, both as child processes speaking raw PCM over pipes.
type FFmpegProvider struct {
	inputFormat  string
	inputDevice  string
	probeTimeout time.Duration
	goos         string
}

func NewFFmpegProvider(cfg Config) *FFmpegProvider {
	p := &FFmpegProvider{
		inputFormat:  strings.TrimSpace(cfg.InputFormat),
		inputDevice:  strings.TrimSpace(cfg.InputDevice),
		probeTimeout: cfg.ProbeTimeout,
		goos:         runtime.GOOS,
	}
	if p.probeTimeout <= 0 {
		p.probeTimeout = defaultProbeTimeout
	}
	return p
}

func (p *FFmpegProvider) captureArgs(sampleRate int) ([]string, error) {
	format, device := p.inputFormat, p.inputDevice
	if format == "" || device == "" {
		var defFormat, defDevice string
		switch p.goos {
		case "darwin":
			defFormat, defDevice = "avfoundation", ":0"
		case "linux":
			defFormat, defDevice = "pulse", "default"
		case "windows":
			defFormat, defDevice = "dshow", "audio=default"
		default:
			return nil, fmt.Errorf("%w: no default microphone input for %s; set AUDIO_FFMPEG_INPUT_FORMAT and AUDIO_FFMPEG_INPUT_DEVICE", ErrUnavailable, p.goos)
		}
		if format == "" {
			format = defFormat
		}
		if device == "" {
			device = defDevice
		}
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(sampleRate),
		"-f", "f32le", "-acodec", "pcm_f32le", "-",
	}, nil
}

func playbackArgs(sampleRate int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

// OpenCapture starts ffmpeg and waits for the first captured bytes, so a denied
// or busy microphone fails here rather than mid-session.
func (p *FFmpegProvider) OpenCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrUnavailable)
	}
	args, err := p.captureArgs(sampleRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg mic capture: %v", ErrUnavailable, err)
	}
	c := &processCapture{cmd: cmd, stdout: stdout, stderr: stderr}

	type probe struct {
		n   int
		err error
	}
	first := make([]byte, 4096)
	probed := make(chan probe, 1)
	go func() {
		n, err := stdout.Read(first)
		probed <- probe{n: n, err: err}
	}()

	timer := time.NewTimer(p.probeTimeout)
	defer timer.Stop()
	select {
	case r := <-probed:
		if r.n == 0 {
			_ = c.Close()
			return nil, fmt.Errorf("%w: microphone produced no audio: %s", ErrUnavailable, c.describe(r.err))
		}
		c.pending = first[:r.n]
		c.pendingErr = r.err
		return c, nil
	case <-timer.C:
		_ = c.Close()
		return nil, fmt.Errorf("%w: microphone produced no audio within %s: %s", ErrUnavailable, p.probeTimeout, c.describe(nil))
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func (p *FFmpegProvider) OpenPlayback(_ context.Context, sampleRate int) (io.WriteCloser, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("%w: ffplay not found in PATH", ErrUnavailable)
	}
	cmd := exec.Command("ffplay", playbackArgs(sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffplay: %v", ErrUnavailable, err)
	}
	return &processPlayback{cmd: cmd, stdin: stdin}, nil
}

type processCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	pending    []byte
	pendingErr error

	closeOnce sync.Once
}

func (c *processCapture) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		if len(c.pending) == 0 && c.pendingErr != nil {
			err := c.pendingErr
			c.pendingErr = nil
			return n, err
		}
		return n, nil
	}
	return c.stdout.Read(p)
}

func (c *processCapture) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}

func (c *processCapture) describe(err error) string {
	msg := strings.TrimSpace(c.stderr.String())
	if msg == "" && err != nil && !errors.Is(err, io.EOF) {
		msg = err.Error()
	}
	if msg == "" {
		msg = "ffmpeg exited without output"
	}
	return msg
}

type processPlayback struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed atomic.Bool
	once   sync.Once
}

// Write serialises writers on mu. Close does not take mu, so it can end a write
// blocked on a full pipe.
func (p *processPlayback) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.stdin.Write(data)
}

func (p *processPlayback) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.stdin.Close()
		_ = p.cmd.Wait()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

package device

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
)

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "alsa"}); err == nil {
		t.Fatalf("expected error for unknown device kind")
	}
	p, err := New(Config{Kind: "WAV"})
	if err != nil {
		t.Fatalf("New(wav) error = %v", err)
	}
	if _, ok := p.(*FileProvider); !ok {
		t.Fatalf("New(wav) = %T, want *FileProvider", p)
	}
}

func TestCaptureArgsDefaults(t *testing.T) {
	cases := []struct {
		goos   string
		format string
		device string
	}{
		{"darwin", "avfoundation", ":0"},
		{"linux", "pulse", "default"},
	}
	for _, tc := range cases {
		p := NewFFmpegProvider(Config{})
		p.goos = tc.goos
		args, err := p.captureArgs(16000)
		if err != nil {
			t.Fatalf("%s: captureArgs() error = %v", tc.goos, err)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-f "+tc.format+" -i "+tc.device) {
			t.Fatalf("%s: args = %q", tc.goos, joined)
		}
		if !strings.Contains(joined, "-ar 16000") || !strings.HasSuffix(joined, "-f f32le -acodec pcm_f32le -") {
			t.Fatalf("%s: args = %q", tc.goos, joined)
		}
	}

	p := NewFFmpegProvider(Config{})
	p.goos = "plan9"
	if _, err := p.captureArgs(16000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("captureArgs(plan9) error = %v, want ErrUnavailable", err)
	}
	p.inputFormat, p.inputDevice = "alsa", "hw:1"
	if _, err := p.captureArgs(16000); err != nil {
		t.Fatalf("explicit input should work on any platform: %v", err)
	}
}

func TestFileProviderCaptureReplaysThenSilence(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "caller.wav")
	pcm := audio.Encode([]float32{0.5, 0.5, 0.5, 0.5}, 16000).Data
	wav, err := audio.EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if err := os.WriteFile(in, wav, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	src, err := NewFileProvider(in, "").OpenCapture(context.Background(), 16000)
	if err != nil {
		t.Fatalf("OpenCapture() error = %v", err)
	}
	defer src.Close()

	// one 20ms chunk at 16kHz is 320 float32 samples
	raw := make([]byte, 320*4)
	if _, err := io.ReadFull(src, raw); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	ctx := audio.NewInputContext(strings.NewReader(string(raw)), 16000, 320)
	frames := make(chan []float32, 1)
	ctx.Tap(func(f []float32) { frames <- f })
	ctx.Start()
	select {
	case f := <-frames:
		if f[0] != 0.5 || f[3] != 0.5 || f[4] != 0 {
			t.Fatalf("unexpected replayed samples: %v", f[:6])
		}
	case <-time.After(time.Second):
		t.Fatalf("no frame decoded")
	}
}

func TestFileProviderCaptureRateMismatch(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "caller.wav")
	wav, _ := audio.EncodeWAV(make([]byte, 8), 8000)
	if err := os.WriteFile(in, wav, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := NewFileProvider(in, "").OpenCapture(context.Background(), 16000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("OpenCapture() error = %v, want ErrUnavailable", err)
	}
	if _, err := NewFileProvider(filepath.Join(dir, "missing.wav"), "").OpenCapture(context.Background(), 16000); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("OpenCapture(missing) error = %v, want ErrUnavailable", err)
	}
}

func TestPacedSourceCloseEndsReads(t *testing.T) {
	src := newPacedSource(nil, 16000, time.Hour)
	done := make(chan error, 1)
	go func() {
		_, err := src.Read(make([]byte, 16))
		done <- err
	}()
	_ = src.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatalf("Read() error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Read did not return after Close")
	}
}

func TestFileProviderPlaybackWritesWAV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reply.wav")
	sink, err := NewFileProvider("", out).OpenPlayback(context.Background(), 24000)
	if err != nil {
		t.Fatalf("OpenPlayback() error = %v", err)
	}
	pcm := audio.Encode([]float32{0.25, -0.25}, 24000).Data
	if _, err := sink.Write(pcm); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := sink.Write(pcm); err == nil {
		t.Fatalf("Write after Close should fail")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	got, format, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if format.SampleRate != 24000 || len(got) != len(pcm) {
		t.Fatalf("format=%+v len=%d", format, len(got))
	}
}

package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/receptionist/internal/config"
	"github.com/ent0n29/receptionist/internal/session"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:              "development",
		LogLevel:         "error",
		MetricsNamespace: "test_app",
		VoiceProvider:    "mock",
		Instructions:     config.DefaultInstructions(),
		AudioDevice:      "wav",
		WAVOutputPath:    filepath.Join(t.TempDir(), "reply.wav"),
		CaptureFrameSize: 320,
	}
}

func TestBuildMockStackBooksAppointment(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Voice.Provider != "mock" {
		t.Fatalf("provider = %q, want mock", res.Voice.Provider)
	}
	if err := res.Controller.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		items, _ := res.Reservations.Recent(context.Background(), 0)
		if len(items) == 1 {
			if items[0].CustomerName != "Иван Иванов" || items[0].SessionID == "" {
				t.Fatalf("reservation = %+v", items[0])
			}
			if got := res.Controller.Status(); got != session.StatusConnected {
				t.Fatalf("Status() = %q, want connected", got)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no reservation recorded")
}

func TestBuildServesHealth(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBuildRejectsUnknownDevice(t *testing.T) {
	cfg := testConfig(t)
	cfg.AudioDevice = "alsa"
	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("Build() should reject unknown audio device")
	}
}

func TestFanOutSkipsNilCallbacks(t *testing.T) {
	var got []session.Status
	obs := fanOut(session.Observer{}, session.Observer{OnStatusChange: func(s session.Status) { got = append(got, s) }})
	obs.OnStatusChange(session.StatusConnecting)
	obs.OnVolumeChange(0.5)
	if len(got) != 1 || got[0] != session.StatusConnecting {
		t.Fatalf("got = %v", got)
	}
}

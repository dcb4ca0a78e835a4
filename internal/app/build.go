package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/config"
	"github.com/ent0n29/receptionist/internal/device"
	"github.com/ent0n29/receptionist/internal/httpapi"
	"github.com/ent0n29/receptionist/internal/observability"
	"github.com/ent0n29/receptionist/internal/reservations"
	"github.com/ent0n29/receptionist/internal/session"
	"github.com/ent0n29/receptionist/internal/tools"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config       config.Config
	Logger       *zap.Logger
	API          *httpapi.Server
	Hub          *httpapi.Hub
	Controller   *session.Controller
	Reservations reservations.Book
	Metrics      *observability.Metrics
	Latency      *observability.LatencyWindow
	Voice        VoiceInfo

	// Cleanup should be called on shutdown to release the session and flush logs.
	Cleanup func() error
}

// Options adjusts Build for callers that observe the session directly.
type Options struct {
	// Observer, when set, also receives every controller notification.
	Observer session.Observer
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger, err := observability.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(256)

	devices, err := device.New(device.Config{
		Kind:          cfg.AudioDevice,
		InputFormat:   cfg.FFmpegInputFormat,
		InputDevice:   cfg.FFmpegInputDevice,
		ProbeTimeout:  cfg.AudioProbeTimeout,
		WAVInputPath:  cfg.WAVInputPath,
		WAVOutputPath: cfg.WAVOutputPath,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("audio device init failed: %w", err)
	}

	setup, err := resolveDialer(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Info("voice provider selected", zap.String("provider", setup.resolvedProvider), zap.String("detail", setup.detail))

	book := reservations.NewInMemoryBook()
	hub := httpapi.NewHub(0, metrics)

	var ctrl *session.Controller
	observer := fanOut(hub.Observer(book, func() session.Snapshot { return ctrl.Snapshot() }, logger), opts.Observer)
	ctrl = session.NewController(session.Config{
		Provider:           setup.resolvedProvider,
		Model:              cfg.GeminiModel,
		VoiceName:          cfg.GeminiVoice,
		Instructions:       cfg.Instructions,
		Transcribe:         cfg.GeminiTranscribe,
		CaptureSampleRate:  cfg.CaptureSampleRate,
		CaptureFrameSize:   cfg.CaptureFrameSize,
		PlaybackSampleRate: cfg.PlaybackSampleRate,
		PlaybackGain:       cfg.PlaybackGain,
		RenderInterval:     cfg.RenderInterval,
		MeterInterval:      cfg.MeterInterval,
		IdleTimeout:        cfg.SessionIdleTimeout,
		Defaults: tools.Defaults{
			CustomerName: cfg.DefaultCustomerName,
			Time:         cfg.DefaultTime,
			Procedure:    cfg.DefaultProcedure,
			Phone:        cfg.DefaultPhone,
		},
	}, session.Dependencies{
		Dialer:  setup.dialer,
		Devices: devices,
		Logger:  logger,
		Metrics: metrics,
		Latency: latency,
	}, observer)

	api := httpapi.New(cfg, ctrl, book, hub, metrics, latency, logger)

	cleanup := func() error {
		var errs []string
		api.Close()
		ctrl.Close()
		if err := book.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		// Sync on a terminal stderr fails with EINVAL on some platforms; nothing to do about it.
		_ = logger.Sync()
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		Logger:       logger,
		API:          api,
		Hub:          hub,
		Controller:   ctrl,
		Reservations: book,
		Metrics:      metrics,
		Latency:      latency,
		Voice: VoiceInfo{
			Provider: setup.resolvedProvider,
			Detail:   setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}

// fanOut calls every non-nil callback of each observer in order.
func fanOut(observers ...session.Observer) session.Observer {
	var out session.Observer
	out.OnStatusChange = func(s session.Status) {
		for _, o := range observers {
			if o.OnStatusChange != nil {
				o.OnStatusChange(s)
			}
		}
	}
	out.OnVolumeChange = func(level float64) {
		for _, o := range observers {
			if o.OnVolumeChange != nil {
				o.OnVolumeChange(level)
			}
		}
	}
	out.OnReservationCreated = func(a tools.Appointment) {
		for _, o := range observers {
			if o.OnReservationCreated != nil {
				o.OnReservationCreated(a)
			}
		}
	}
	return out
}

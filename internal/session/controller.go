package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/capture"
	"github.com/ent0n29/receptionist/internal/device"
	"github.com/ent0n29/receptionist/internal/metering"
	"github.com/ent0n29/receptionist/internal/observability"
	"github.com/ent0n29/receptionist/internal/playback"
	"github.com/ent0n29/receptionist/internal/tools"
	"github.com/ent0n29/receptionist/internal/voice"
)

// ErrControllerClosed is returned by Connect after Close.
var ErrControllerClosed = errors.New("controller closed")

type Config struct {
	Provider     string
	Model        string
	VoiceName    string
	Instructions string
	Transcribe   bool

	CaptureSampleRate  int
	CaptureFrameSize   int
	PlaybackSampleRate int
	PlaybackGain       float64
	RenderInterval     time.Duration
	MeterInterval      time.Duration
	// IdleTimeout ends a connected session that received nothing from the model for this long. Zero disables it.
	IdleTimeout time.Duration

	Defaults tools.Defaults
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = voice.DefaultGeminiModel
	}
	if c.VoiceName == "" {
		c.VoiceName = voice.DefaultGeminiVoice
	}
	if c.CaptureSampleRate <= 0 {
		c.CaptureSampleRate = 16000
	}
	if c.CaptureFrameSize <= 0 {
		c.CaptureFrameSize = 4096
	}
	if c.PlaybackSampleRate <= 0 {
		c.PlaybackSampleRate = 24000
	}
	if c.PlaybackGain <= 0 {
		c.PlaybackGain = 1
	}
	if c.RenderInterval <= 0 {
		c.RenderInterval = 20 * time.Millisecond
	}
	if c.MeterInterval <= 0 {
		c.MeterInterval = metering.DefaultInterval
	}
	def := tools.DefaultDefaults()
	if c.Defaults.CustomerName == "" {
		c.Defaults.CustomerName = def.CustomerName
	}
	if c.Defaults.Time == "" {
		c.Defaults.Time = def.Time
	}
	if c.Defaults.Procedure == "" {
		c.Defaults.Procedure = def.Procedure
	}
	if c.Defaults.Phone == "" {
		c.Defaults.Phone = def.Phone
	}
	return c
}

type Dependencies struct {
	Dialer  voice.Dialer
	Devices device.Provider
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Latency *observability.LatencyWindow
	Now     func() time.Time
}

// Controller owns the single voice session: its devices, audio graphs,
// model channel and status. All exported methods are safe for concurrent use.
type Controller struct {
	cfg      Config
	dialer   voice.Dialer
	devices  device.Provider
	logger   *zap.Logger
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	now      func() time.Time
	observer Observer
	notify   *queue

	mu          sync.Mutex
	status      Status
	live        *liveSession
	connectedAt time.Time
	lastErr     error
	lastDown    <-chan struct{}
	closed      bool
}

func NewController(cfg Config, deps Dependencies, observer Observer) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Controller{
		cfg:      cfg.withDefaults(),
		dialer:   deps.Dialer,
		devices:  deps.Devices,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		latency:  deps.Latency,
		now:      deps.Now,
		observer: observer,
		notify:   newQueue(),
		status:   StatusDisconnected,
	}
	c.notify.start()
	return c
}

// Status returns the last reported status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Status: c.status}
	if ls := c.live; ls != nil {
		snap.SessionID = ls.id
		started := ls.startedAt
		snap.StartedAt = &started
	}
	if !c.connectedAt.IsZero() {
		connected := c.connectedAt
		snap.ConnectedAt = &connected
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if c.status == StatusError {
		snap.Hint = FailureHint
	}
	return snap
}

// Connect starts a new session, or tears down the current one when a session
// is already connecting or connected. It returns once the model channel has
// been dialed; StatusConnected is reported when the channel opens.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		c.logger.Info("connect requested while session active; disconnecting")
		c.metrics.SessionEvent("toggle")
		c.Disconnect()
		return nil
	}

	ls := newLiveSession(c.now())
	prevDown := c.lastDown
	c.lastDown = ls.down
	c.live = ls
	c.lastErr = nil
	c.connectedAt = time.Time{}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	c.metrics.SessionEvent("connect")
	logger := c.logger.With(zap.String("session_id", ls.id))
	logger.Info("connecting voice session", zap.String("model", c.cfg.Model))

	if prevDown != nil {
		select {
		case <-prevDown:
		case <-ctx.Done():
			return c.abort(ls, ctx.Err())
		case <-ls.ctx.Done():
			return c.abort(ls, ErrConnectCanceled)
		}
	}
	if err := c.start(ctx, ls); err != nil {
		return c.abort(ls, err)
	}
	return nil
}

func (c *Controller) start(ctx context.Context, ls *liveSession) error {
	dialCtx, cancel := context.WithCancel(ls.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	began := c.now()
	src, err := c.devices.OpenCapture(dialCtx, c.cfg.CaptureSampleRate)
	if err != nil {
		return fmt.Errorf("acquire capture device: %w", err)
	}
	if !ls.add("capture device", src.Close) {
		return ErrConnectCanceled
	}
	c.latency.Observe(observability.StageCaptureAcquire, c.now().Sub(began))

	input := audio.NewInputContext(src, c.cfg.CaptureSampleRate, c.cfg.CaptureFrameSize)
	meter := metering.NewMeter(input.Analyser(), c.cfg.MeterInterval, func(level float64) {
		c.reportVolume(ls, level)
	})
	if !ls.add("volume meter", func() error { meter.Stop(); return nil }) {
		return ErrConnectCanceled
	}
	input.Start()
	meter.Start()

	began = c.now()
	sink, err := c.devices.OpenPlayback(dialCtx, c.cfg.PlaybackSampleRate)
	if err != nil {
		return fmt.Errorf("acquire playback device: %w", err)
	}
	c.latency.Observe(observability.StagePlaybackAcquire, c.now().Sub(began))

	output := audio.NewOutputContext(c.cfg.PlaybackSampleRate, sink)
	output.SetGain(c.cfg.PlaybackGain)
	if !ls.add("output context", output.Close) {
		_ = sink.Close()
		return ErrConnectCanceled
	}
	// Registered after the output context so it is released before it: closing
	// the device unblocks a render loop stuck in a write.
	if !ls.add("playback device", sink.Close) {
		return ErrConnectCanceled
	}
	output.Start(c.cfg.RenderInterval)
	ls.scheduler = playback.NewScheduler(output)
	if !ls.add("playback scheduler", func() error { ls.scheduler.Interrupt(); return nil }) {
		return ErrConnectCanceled
	}
	ls.pipeline = capture.New(input, capture.Options{
		SampleRate: c.cfg.CaptureSampleRate,
		Logger:     c.logger.With(zap.String("session_id", ls.id)),
		Metrics:    c.metrics,
	})
	if !ls.add("capture pipeline", func() error { ls.pipeline.Close(); return nil }) {
		return ErrConnectCanceled
	}

	decls, err := tools.Declarations()
	if err != nil {
		return err
	}

	began = c.now()
	conn, err := c.dialer.Connect(dialCtx, c.cfg.Model, c.callbacks(ls), voice.SessionConfig{
		Instructions: c.cfg.Instructions,
		VoiceName:    c.cfg.VoiceName,
		Tools:        decls,
		Transcribe:   c.cfg.Transcribe,
	})
	if err != nil {
		c.metrics.ProviderError(c.cfg.Provider, "connect")
		return fmt.Errorf("%w: %w", ErrChannelOpen, err)
	}
	ls.conn = conn
	// Released first: closing the channel unblocks any in-flight send.
	if !ls.add("voice channel", conn.Close) {
		return ErrConnectCanceled
	}
	c.latency.Observe(observability.StageDial, c.now().Sub(began))

	c.watch(ls, input, output)
	ls.touch(c.now())
	ls.events.start()
	return nil
}

// abort ends a connect attempt that failed partway. Whatever was acquired is released.
func (c *Controller) abort(ls *liveSession, cause error) error {
	c.mu.Lock()
	current := c.live == ls
	if current {
		c.detachLocked(StatusError, cause)
	}
	c.mu.Unlock()
	ls.teardown(c.logger)

	if !current {
		c.logger.Info("connect superseded", zap.String("session_id", ls.id), zap.Error(cause))
		if errors.Is(cause, ErrConnectCanceled) {
			return cause
		}
		return fmt.Errorf("%w: %w", ErrConnectCanceled, cause)
	}
	c.metrics.SessionEvent("connect_error")
	c.logger.Error("voice session connect failed", zap.String("session_id", ls.id), zap.Error(cause))
	return cause
}

// Disconnect tears down the current session and reports StatusDisconnected.
// It is safe to call in any state and any number of times.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	ls := c.live
	if ls == nil {
		c.setStatusLocked(StatusDisconnected)
		c.mu.Unlock()
		return
	}
	c.detachLocked(StatusDisconnected, nil)
	c.mu.Unlock()

	c.metrics.SessionEvent("disconnect")
	c.logger.Info("voice session disconnected", zap.String("session_id", ls.id))
	ls.teardown(c.logger)
}

// Close disconnects and flushes pending observer notifications.
func (c *Controller) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	down := c.lastDown
	c.mu.Unlock()
	if down != nil {
		<-down
	}
	c.notify.stop(true)
	<-c.notify.done
}

// fail ends ls with StatusError. Stale sessions are ignored.
func (c *Controller) fail(ls *liveSession, cause error) {
	c.end(ls, StatusError, cause)
}

func (c *Controller) end(ls *liveSession, status Status, cause error) {
	c.mu.Lock()
	if c.live != ls {
		c.mu.Unlock()
		return
	}
	c.detachLocked(status, cause)
	c.mu.Unlock()

	logger := c.logger.With(zap.String("session_id", ls.id))
	switch {
	case status == StatusError:
		c.metrics.SessionEvent("error")
		logger.Error("voice session failed", zap.Error(cause))
	case cause != nil:
		c.metrics.SessionEvent("ended")
		logger.Info("voice session ended", zap.Error(cause))
	default:
		c.metrics.SessionEvent("server_close")
		logger.Info("voice channel closed by server")
	}
	ls.teardown(c.logger)
}

func (c *Controller) detachLocked(status Status, cause error) {
	c.live = nil
	c.connectedAt = time.Time{}
	if cause != nil {
		c.lastErr = cause
	}
	c.setStatusLocked(status)
	c.metrics.SetActiveSessions(0)
}

func (c *Controller) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.metrics.StatusChanged(string(s))
	obs := c.observer.OnStatusChange
	if obs == nil {
		return
	}
	c.notifyLocked("status", func() { obs(s) })
}

func (c *Controller) reportVolume(ls *liveSession, level float64) {
	obs := c.observer.OnVolumeChange
	if obs == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != ls {
		return
	}
	c.notifyLocked("volume", func() { obs(level) })
}

func (c *Controller) emitReservation(ls *liveSession, appt tools.Appointment) {
	obs := c.observer.OnReservationCreated
	if obs == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != ls {
		return
	}
	appt.SessionID = ls.id
	c.notifyLocked("reservation", func() { obs(appt) })
}

// notifyLocked queues an observer call. Queuing under c.mu keeps notifications
// in the order the state changes happened.
func (c *Controller) notifyLocked(kind string, fn func()) {
	c.notify.push(func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("observer panicked", zap.String("callback", kind), zap.Any("panic", r))
			}
		}()
		fn()
	})
}

func (c *Controller) watch(ls *liveSession, input *audio.InputContext, output *audio.OutputContext) {
	go func() {
		select {
		case <-ls.ctx.Done():
		case <-input.Done():
			c.fail(ls, fmt.Errorf("%w: %w", ErrCaptureLost, input.Err()))
		}
	}()
	go func() {
		select {
		case <-ls.ctx.Done():
		case <-output.Done():
			if err := output.Err(); err != nil {
				c.logger.Warn("playback device stopped; continuing without audio output",
					zap.String("session_id", ls.id), zap.Error(err))
			}
		}
	}()
}

// StartJanitor ends connected sessions that stay silent longer than the idle timeout.
func (c *Controller) StartJanitor(ctx context.Context, interval time.Duration) {
	if c.cfg.IdleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = c.cfg.IdleTimeout / 4
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.expireIdle()
			}
		}
	}()
}

func (c *Controller) expireIdle() {
	c.mu.Lock()
	ls := c.live
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if ls == nil || !connected {
		return
	}
	if idle := c.now().Sub(ls.lastActive()); idle > c.cfg.IdleTimeout {
		c.end(ls, StatusDisconnected, fmt.Errorf("%w for %s", ErrIdle, idle.Round(time.Second)))
	}
}

type closer struct {
	name string
	fn   func() error
}

// liveSession holds the resources of one connect attempt. Resources are
// released in reverse acquisition order exactly once.
type liveSession struct {
	id        string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	events    *queue

	// Written by Connect before events start, read by the dispatch goroutine.
	conn      voice.Conn
	scheduler *playback.Scheduler
	pipeline  *capture.Pipeline

	// Owned by the dispatch goroutine.
	openedAt   time.Time
	firstAudio bool

	mu           sync.Mutex
	closers      []closer
	torn         bool
	down         chan struct{}
	lastActiveAt time.Time
}

func newLiveSession(now time.Time) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveSession{
		id:        uuid.NewString(),
		startedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		events:    newQueue(),
		down:      make(chan struct{}),
	}
}

// add registers a release function. If the session is already torn down the
// resource is released immediately and add reports false.
func (s *liveSession) add(name string, fn func() error) bool {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		_ = fn()
		return false
	}
	s.closers = append(s.closers, closer{name: name, fn: fn})
	s.mu.Unlock()
	return true
}

func (s *liveSession) teardown(logger *zap.Logger) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		<-s.down
		return
	}
	s.torn = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	s.events.stop(false)
	for i := len(closers) - 1; i >= 0; i-- {
		release(logger, s.id, closers[i])
	}
	close(s.down)
}

func release(logger *zap.Logger, sessionID string, c closer) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("resource release panicked", zap.String("session_id", sessionID),
				zap.String("resource", c.name), zap.Any("panic", r))
		}
	}()
	if err := c.fn(); err != nil {
		logger.Warn("resource release failed", zap.String("session_id", sessionID),
			zap.String("resource", c.name), zap.Error(err))
	}
}

func (s *liveSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastActiveAt = now
	s.mu.Unlock()
}

func (s *liveSession) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

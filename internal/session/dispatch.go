package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/observability"
	"github.com/ent0n29/receptionist/internal/policy"
	"github.com/ent0n29/receptionist/internal/tools"
	"github.com/ent0n29/receptionist/internal/voice"
)

// callbacks turns transport events into work on the session's ordered queue.
// The transport may call them before Connect returns; they run once the
// session is fully assembled.
func (c *Controller) callbacks(ls *liveSession) voice.Callbacks {
	return voice.Callbacks{
		OnOpen: func() {
			ls.events.push(func() { c.handleOpen(ls) })
		},
		OnMessage: func(msg *voice.ServerMessage) {
			ls.events.push(func() { c.handleMessage(ls, msg) })
		},
		OnError: func(err error) {
			ls.events.push(func() {
				c.metrics.ProviderError(c.cfg.Provider, "receive")
				c.fail(ls, fmt.Errorf("%w: %w", ErrTransport, err))
			})
		},
		OnClose: func() {
			ls.events.push(func() { c.end(ls, StatusDisconnected, nil) })
		},
	}
}

func (c *Controller) handleOpen(ls *liveSession) {
	now := c.now()
	c.mu.Lock()
	if c.live != ls || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.connectedAt = now
	c.setStatusLocked(StatusConnected)
	c.metrics.SetActiveSessions(1)
	c.mu.Unlock()

	ls.openedAt = now
	ls.touch(now)
	ls.pipeline.Open(ls.ctx, ls.conn)
	c.metrics.SessionEvent("open")
	c.latency.Observe(observability.StageConnectToOpen, now.Sub(ls.startedAt))
	c.logger.Info("voice session connected", zap.String("session_id", ls.id))
}

// handleMessage applies one server message: tool calls first, then audio,
// then interruption.
func (c *Controller) handleMessage(ls *liveSession, msg *voice.ServerMessage) {
	if msg == nil || !c.isLive(ls) {
		return
	}
	ls.touch(c.now())

	for _, call := range msg.ToolCalls {
		c.handleToolCall(ls, call)
	}
	for _, chunk := range msg.Audio {
		c.playChunk(ls, chunk)
	}
	if msg.Interrupted {
		stopped := ls.scheduler.Interrupt()
		c.metrics.Interruption()
		c.latency.Count("interruption")
		c.logger.Debug("playback interrupted", zap.String("session_id", ls.id), zap.Int("stopped_chunks", stopped))
	}
	if msg.TurnComplete {
		c.metrics.TransportMessage("in", "turn_complete")
	}
	if msg.InputTranscript != "" {
		c.logger.Debug("caller transcript", zap.String("session_id", ls.id), zap.String("text", redact(msg.InputTranscript)))
	}
	if msg.OutputTranscript != "" {
		c.logger.Debug("assistant transcript", zap.String("session_id", ls.id), zap.String("text", redact(msg.OutputTranscript)))
	}
}

func (c *Controller) playChunk(ls *liveSession, chunk []byte) {
	c.metrics.TransportMessage("in", "audio")
	if _, err := ls.scheduler.Enqueue(chunk); err != nil {
		if errors.Is(err, audio.ErrContextClosed) {
			return
		}
		c.metrics.DecodeError()
		c.latency.Count("decode_error")
		c.logger.Warn("dropping undecodable audio chunk",
			zap.String("session_id", ls.id), zap.Int("bytes", len(chunk)), zap.Error(err))
		return
	}
	c.metrics.PlaybackChunk()
	if !ls.firstAudio {
		ls.firstAudio = true
		if !ls.openedAt.IsZero() {
			d := c.now().Sub(ls.openedAt)
			c.metrics.ObserveFirstAudioLatency(d)
			c.latency.Observe(observability.StageOpenToAudio, d)
		}
	}
}

// handleToolCall answers every call exactly once. The response never waits on
// the observer.
func (c *Controller) handleToolCall(ls *liveSession, call voice.FunctionCall) {
	began := c.now()
	c.metrics.TransportMessage("in", "tool_call")
	logger := c.logger.With(zap.String("session_id", ls.id), zap.String("call_id", call.ID))

	resp := voice.ToolResponse{ID: call.ID, Name: call.Name}
	label, outcome := call.Name, "ok"
	switch call.Name {
	case tools.CreateAppointment:
		appt := tools.ParseAppointment(call.Args, began, c.cfg.Defaults)
		phone, _ := policy.RedactPII(appt.Phone)
		logger.Info("appointment requested",
			zap.String("customer", policy.MaskName(appt.CustomerName)),
			zap.String("date", appt.Date),
			zap.String("time", appt.Time),
			zap.String("procedure", appt.Procedure),
			zap.String("phone", phone))
		c.emitReservation(ls, appt)
		resp.Response = tools.SuccessResponse()
	default:
		label, outcome = "unknown", "unknown"
		logger.Warn("unknown tool call", zap.String("name", call.Name))
		resp.Response = tools.ErrorResponse(fmt.Sprintf("unknown function %q", call.Name))
	}

	if err := ls.conn.SendToolResponse(ls.ctx, resp); err != nil {
		outcome = "send_error"
		logger.Warn("tool response not delivered", zap.Error(err))
	} else {
		c.metrics.TransportMessage("out", "tool_response")
	}
	c.metrics.ToolCall(label, outcome)
	c.latency.Observe(observability.StageToolRoundTrip, c.now().Sub(began))
}

func (c *Controller) isLive(ls *liveSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live == ls
}

func redact(text string) string {
	out, _ := policy.RedactPII(text)
	return out
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/config"
	"github.com/ent0n29/receptionist/internal/observability"
	"github.com/ent0n29/receptionist/internal/protocol"
	"github.com/ent0n29/receptionist/internal/reservations"
	"github.com/ent0n29/receptionist/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// Agent is the voice session the control surface drives.
type Agent interface {
	Connect(ctx context.Context) error
	Disconnect()
	Snapshot() session.Snapshot
}

type Server struct {
	cfg      config.Config
	agent    Agent
	book     reservations.Book
	hub      *Hub
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	logger   *zap.Logger
	upgrader websocket.Upgrader

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg config.Config, agent Agent, book reservations.Book, hub *Hub, metrics *observability.Metrics, latency *observability.LatencyWindow, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(0, metrics)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		agent:   agent,
		book:    book,
		hub:     hub,
		metrics: metrics,
		latency: latency,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/agent/status", s.handleStatus)
	r.Post("/v1/agent/connect", s.handleConnect)
	r.Post("/v1/agent/disconnect", s.handleDisconnect)
	r.Get("/v1/reservations", s.handleListReservations)
	r.Get("/v1/reservations/{id}", s.handleGetReservation)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events", s.handleEventsWS)
	return r
}

// Close cancels pending connect attempts and waits for them to return.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"voice_provider": s.cfg.ResolvedProvider(),
		"agent_status":   s.agent.Snapshot().Status,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.agent.Snapshot())
}

// handleConnect toggles the session. Progress is reported through status
// events and /v1/agent/status.
func (s *Server) handleConnect(w http.ResponseWriter, _ *http.Request) {
	s.toggle()
	respondJSON(w, http.StatusAccepted, map[string]any{"action": protocol.ActionToggle})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.agent.Disconnect()
	respondJSON(w, http.StatusOK, s.agent.Snapshot())
}

func (s *Server) toggle() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ConnectTimeout)
		defer cancel()
		if err := s.agent.Connect(ctx); err != nil {
			s.logger.Warn("connect request failed", zap.Error(err))
		}
	}()
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := s.book.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reservations_unavailable", err.Error())
		return
	}
	if items == nil {
		items = []reservations.Reservation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"reservations": items})
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	res, err := s.book.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "reservation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.subscribe()
	s.hub.sendTo(sub, statusEvent(s.agent.Snapshot()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					s.metrics.WSWriteError()
					cancel()
					return
				}
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSWriteError()
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.hub.sendTo(sub, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		if control, ok := parsed.(protocol.ClientControl); ok {
			s.applyControl(control)
		}
	}

	cancel()
	s.hub.unsubscribe(sub)
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) applyControl(msg protocol.ClientControl) {
	switch msg.Action {
	case protocol.ActionToggle:
		s.toggle()
	case protocol.ActionConnect:
		switch s.agent.Snapshot().Status {
		case session.StatusConnecting, session.StatusConnected:
		default:
			s.toggle()
		}
	case protocol.ActionDisconnect:
		s.agent.Disconnect()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

package httpapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/observability"
	"github.com/ent0n29/receptionist/internal/protocol"
	"github.com/ent0n29/receptionist/internal/reservations"
	"github.com/ent0n29/receptionist/internal/session"
	"github.com/ent0n29/receptionist/internal/tools"
)

const defaultSubscriberBuffer = 64

type subscriber struct {
	ch chan any
}

// Hub fans controller events out to websocket subscribers. A slow subscriber
// loses events instead of holding up the others.
type Hub struct {
	size    int
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(buffer int, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{size: buffer, metrics: metrics, subs: make(map[*subscriber]struct{})}
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan any, h.size)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// unsubscribe removes sub and closes its channel.
func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.deliverLocked(sub, msg)
	}
}

func (h *Hub) sendTo(sub *subscriber, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		h.deliverLocked(sub, msg)
	}
}

func (h *Hub) deliverLocked(sub *subscriber, msg any) {
	typ, _ := messageTypeOf(msg)
	select {
	case sub.ch <- msg:
		h.metrics.WSMessage("queued", string(typ))
	default:
		h.metrics.WSMessage("drop_full", string(typ))
	}
}

// Observer publishes controller notifications and records reservations in book.
// snapshot is consulted for the current session id.
func (h *Hub) Observer(book reservations.Book, snapshot func() session.Snapshot, logger *zap.Logger) session.Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return session.Observer{
		OnStatusChange: func(st session.Status) {
			snap := snapshot()
			snap.Status = st
			h.Publish(statusEvent(snap))
		},
		OnVolumeChange: func(level float64) {
			h.Publish(protocol.VolumeEvent{
				Type:  protocol.TypeVolumeEvent,
				Level: level,
				TSMs:  time.Now().UnixMilli(),
			})
		},
		OnReservationCreated: func(appt tools.Appointment) {
			r, err := book.Add(context.Background(), reservations.Reservation{
				SessionID:   appt.SessionID,
				Appointment: appt,
			})
			if err != nil {
				logger.Error("reservation not recorded", zap.Error(err))
				return
			}
			logger.Info("reservation recorded", zap.String("reservation_id", r.ID), zap.String("session_id", r.SessionID))
			h.Publish(protocol.ReservationCreated{
				Type:        protocol.TypeReservationCreated,
				Reservation: r,
				TSMs:        time.Now().UnixMilli(),
			})
		},
	}
}

func statusEvent(snap session.Snapshot) protocol.StatusEvent {
	ev := protocol.StatusEvent{
		Type:      protocol.TypeStatusEvent,
		SessionID: snap.SessionID,
		Status:    string(snap.Status),
		TSMs:      time.Now().UnixMilli(),
	}
	if snap.Status == session.StatusError {
		ev.Hint = session.FailureHint
	}
	return ev
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.StatusEvent:
		return m.Type, true
	case protocol.VolumeEvent:
		return m.Type, true
	case protocol.ReservationCreated:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

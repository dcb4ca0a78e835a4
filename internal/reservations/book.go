package reservations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/receptionist/internal/tools"
)

const StatusConfirmed = "confirmed"

// ErrNotFound is returned by Get for unknown reservation IDs.
var ErrNotFound = errors.New("reservation not found")

// Reservation is an appointment accepted during a call.
type Reservation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	tools.Appointment
}

// Book records the reservations taken by the receptionist.
type Book interface {
	Add(ctx context.Context, r Reservation) (Reservation, error)
	Get(ctx context.Context, id string) (Reservation, error)
	Recent(ctx context.Context, limit int) ([]Reservation, error)
	Close() error
}

// InMemoryBook keeps reservations for the life of the process.
type InMemoryBook struct {
	mu      sync.RWMutex
	records []Reservation
	byID    map[string]int
	now     func() time.Time
}

func NewInMemoryBook() *InMemoryBook {
	return &InMemoryBook{byID: make(map[string]int), now: time.Now}
}

func (b *InMemoryBook) Add(_ context.Context, r Reservation) (Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusConfirmed
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = b.now().UTC()
	}
	b.byID[r.ID] = len(b.records)
	b.records = append(b.records, r)
	return r, nil
}

func (b *InMemoryBook) Get(_ context.Context, id string) (Reservation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.byID[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return b.records[i], nil
}

// Recent returns up to limit reservations, newest first. A non-positive limit returns all.
func (b *InMemoryBook) Recent(_ context.Context, limit int) ([]Reservation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.records) {
		limit = len(b.records)
	}
	out := make([]Reservation, 0, limit)
	for i := len(b.records) - 1; i >= len(b.records)-limit; i-- {
		out = append(out, b.records[i])
	}
	return out, nil
}

func (b *InMemoryBook) Close() error { return nil }

package reservations

import (
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/receptionist/internal/tools"
)

func TestInMemoryBookAddAssignsIdentity(t *testing.T) {
	b := NewInMemoryBook()
	r, err := b.Add(context.Background(), Reservation{Appointment: tools.Appointment{CustomerName: "Иван Иванов"}})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if r.ID == "" || r.Status != StatusConfirmed || r.CreatedAt.IsZero() {
		t.Fatalf("unexpected reservation: %+v", r)
	}

	got, err := b.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CustomerName != "Иван Иванов" {
		t.Fatalf("CustomerName = %q", got.CustomerName)
	}
}

func TestInMemoryBookRecentNewestFirst(t *testing.T) {
	b := NewInMemoryBook()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := b.Add(context.Background(), Reservation{Appointment: tools.Appointment{CustomerName: name}}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	got, err := b.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].CustomerName != "c" || got[1].CustomerName != "b" {
		t.Fatalf("Recent(2) = %+v", got)
	}

	all, _ := b.Recent(context.Background(), 0)
	if len(all) != 3 {
		t.Fatalf("Recent(0) len = %d, want 3", len(all))
	}
}

func TestInMemoryBookGetUnknown(t *testing.T) {
	b := NewInMemoryBook()
	if _, err := b.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

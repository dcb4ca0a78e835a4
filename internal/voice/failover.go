package voice

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// FailoverDialer prefers the primary dialer and switches to the fallback when
// opening a channel on the primary fails. Once the fallback succeeds it stays
// active until it fails; then the primary is retried.
type FailoverDialer struct {
	primary       Dialer
	fallback      Dialer
	fallbackModel string

	fallbackActive atomic.Bool
}

// NewFailoverDialer wraps primary and fallback. fallbackModel, when set,
// replaces the requested model on the fallback path.
func NewFailoverDialer(primary, fallback Dialer, fallbackModel string) *FailoverDialer {
	return &FailoverDialer{
		primary:       primary,
		fallback:      fallback,
		fallbackModel: strings.TrimSpace(fallbackModel),
	}
}

// FallbackActive reports whether the next Connect starts on the fallback.
func (d *FailoverDialer) FallbackActive() bool {
	return d.fallbackActive.Load()
}

func (d *FailoverDialer) Connect(ctx context.Context, model string, cb Callbacks, cfg SessionConfig) (Conn, error) {
	if d.fallbackActive.Load() {
		conn, fbErr := d.connectFallback(ctx, model, cb, cfg)
		if fbErr == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fbErr
		}
		// Fallback failed after being active; try primary again.
		conn, prErr := d.primary.Connect(ctx, model, cb, cfg)
		if prErr == nil {
			d.fallbackActive.Store(false)
			return conn, nil
		}
		return nil, fmt.Errorf("fallback failed: %v; primary failed: %w", fbErr, prErr)
	}

	conn, prErr := d.primary.Connect(ctx, model, cb, cfg)
	if prErr == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, prErr
	}
	conn, fbErr := d.connectFallback(ctx, model, cb, cfg)
	if fbErr != nil {
		return nil, fmt.Errorf("primary failed: %v; fallback failed: %w", prErr, fbErr)
	}
	d.fallbackActive.Store(true)
	return conn, nil
}

func (d *FailoverDialer) connectFallback(ctx context.Context, model string, cb Callbacks, cfg SessionConfig) (Conn, error) {
	if d.fallbackModel != "" {
		model = d.fallbackModel
	}
	return d.fallback.Connect(ctx, model, cb, cfg)
}

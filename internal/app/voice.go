package app

import (
	"context"
	"fmt"

	"github.com/ent0n29/receptionist/internal/config"
	"github.com/ent0n29/receptionist/internal/voice"
)

type voiceSetup struct {
	dialer           voice.Dialer
	resolvedProvider string
	detail           string
}

func resolveDialer(ctx context.Context, cfg config.Config) (voiceSetup, error) {
	switch provider := cfg.ResolvedProvider(); provider {
	case "gemini":
		d, err := voice.NewGeminiDialer(ctx, voice.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
		})
		if err != nil {
			return voiceSetup{}, fmt.Errorf("gemini dialer init failed: %w", err)
		}
		setup := voiceSetup{
			dialer:           d,
			resolvedProvider: provider,
			detail:           fmt.Sprintf("gemini live (%s, voice %s)", cfg.GeminiModel, cfg.GeminiVoice),
		}
		if cfg.GeminiFallback != "" && cfg.GeminiFallback != cfg.GeminiModel {
			setup.dialer = voice.NewFailoverDialer(d, d, cfg.GeminiFallback)
			setup.detail += ", fallback " + cfg.GeminiFallback
		}
		return setup, nil
	case "mock":
		detail := "mock (scripted conversation)"
		if cfg.VoiceProvider == "auto" {
			detail = "mock (no GEMINI_API_KEY set)"
		}
		return voiceSetup{
			dialer:           voice.NewMockDialer(voice.DefaultMockConfig()),
			resolvedProvider: provider,
			detail:           detail,
		}, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|gemini|mock)", cfg.VoiceProvider)
	}
}

package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("API_BASE_URL", "")
	os.Setenv("CONVERSATION_WS_URL", "")
	os.Setenv("RELAY_WS_URL", "")
	os.Setenv("STREAMING_MODE", "")
	cfg := Load()
	if cfg.APIBaseURL == "" {
		t.Fatalf("expected default api base url")
	}
	if cfg.ConversationWSURL == "" || cfg.RelayWSURL == "" {
		t.Fatalf("expected default socket urls")
	}
	if cfg.StreamingMode != DefaultStreamingMode {
		t.Fatalf("expected default streaming mode, got %q", cfg.StreamingMode)
	}
	if cfg.CaptureRate != 16000 || cfg.PlaybackRate != 24000 {
		t.Fatalf("expected default rates, got %d/%d", cfg.CaptureRate, cfg.PlaybackRate)
	}
}

func TestLoad_InvalidRateFallsBack(t *testing.T) {
	os.Setenv("CAPTURE_SAMPLE_RATE", "nope")
	defer os.Unsetenv("CAPTURE_SAMPLE_RATE")
	cfg := Load()
	if cfg.CaptureRate != 16000 {
		t.Fatalf("expected fallback rate, got %d", cfg.CaptureRate)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Setenv("STREAMING_MODE", "webrtc")
	os.Setenv("PLAYBACK_SAMPLE_RATE", "48000")
	defer os.Unsetenv("STREAMING_MODE")
	defer os.Unsetenv("PLAYBACK_SAMPLE_RATE")
	cfg := Load()
	if cfg.StreamingMode != "webrtc" {
		t.Fatalf("streaming mode override lost, got %q", cfg.StreamingMode)
	}
	if cfg.PlaybackRate != 48000 {
		t.Fatalf("playback rate override lost, got %d", cfg.PlaybackRate)
	}
}

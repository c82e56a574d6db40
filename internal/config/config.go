package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultStreamingMode is the hard fallback when no streaming-mode preference
// is persisted.
const DefaultStreamingMode = "media"

// Config holds application configuration.
type Config struct {
	APIBaseURL        string
	ConversationWSURL string
	RelayWSURL        string
	CaptureRate       int
	PlaybackRate      int
	StreamingMode     string
	DebugHTTPAddress  string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8000"
		log.Println("Warning: API_BASE_URL not set - using", apiBase)
	}

	convURL := os.Getenv("CONVERSATION_WS_URL")
	if convURL == "" {
		convURL = "ws://localhost:8000/api/v1/media/stream"
	}

	relayURL := os.Getenv("RELAY_WS_URL")
	if relayURL == "" {
		relayURL = "ws://localhost:8000/api/v1/calls/events"
	}

	// Streaming-mode preference: read once at startup, hard default otherwise.
	mode := os.Getenv("STREAMING_MODE")
	if mode == "" {
		mode = DefaultStreamingMode
	}

	debugAddr := os.Getenv("DEBUG_HTTP_ADDRESS")
	if debugAddr == "" {
		debugAddr = ":8090"
	}

	cfg := Config{
		APIBaseURL:        apiBase,
		ConversationWSURL: convURL,
		RelayWSURL:        relayURL,
		CaptureRate:       envInt("CAPTURE_SAMPLE_RATE", 16000),
		PlaybackRate:      envInt("PLAYBACK_SAMPLE_RATE", 24000),
		StreamingMode:     mode,
		DebugHTTPAddress:  debugAddr,
	}
	log.Printf("config: api=%s streaming_mode=%s capture=%dHz playback=%dHz",
		cfg.APIBaseURL, cfg.StreamingMode, cfg.CaptureRate, cfg.PlaybackRate)
	return cfg
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q - using %d", key, v, fallback)
		return fallback
	}
	return n
}

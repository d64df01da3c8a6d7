package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const (
	DefaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	DefaultGeminiModel   = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultGreetingText  = "Hello, please tell me about my reminder."
)

// Config holds all server configuration
type Config struct {
	Port     int
	Provider string // "openai" or "gemini"

	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	GeminiAPIKey  string
	GeminiModel   string
	GeminiVoice   string

	// Session configuration sent upstream on connect
	Voice                string
	VADThreshold         float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int
	GreetingText         string

	InterruptOnSpeech bool // cancel the active response when the user starts talking
	AllowClientCancel bool // accept {"type":"cancel"} from the client

	IndexPath      string
	AllowedOrigins []string
	MaxMessageSize int64 // Maximum client frame size in bytes
	WriteTimeout   time.Duration

	MaxSessions    int           // 0 means unlimited
	SessionTimeout time.Duration // 0 disables idle reaping
	RedisURL       string
	RedisPassword  string

	LogLevel  string
	LogFormat string // "text" or "json"
	LogFile   string

	TelemetryEnabled bool
	TelemetryDir     string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:                 8000,
		Provider:             ProviderOpenAI,
		RealtimeURL:          DefaultRealtimeURL,
		RealtimeModel:        DefaultRealtimeModel,
		GeminiModel:          DefaultGeminiModel,
		GeminiVoice:          "Zephyr",
		Voice:                "alloy",
		VADThreshold:         0.3,
		VADPrefixPaddingMs:   300,
		VADSilenceDurationMs: 200,
		GreetingText:         DefaultGreetingText,
		InterruptOnSpeech:    true,
		AllowClientCancel:    true,
		IndexPath:            "index.html",
		AllowedOrigins:       []string{"*"},
		MaxMessageSize:       512 * 1024, // 512KB max message
		WriteTimeout:         10 * time.Second,
		LogLevel:             "info",
		LogFormat:            "text",
		TelemetryDir:         "logs",
	}

	// The credential is not validated here; a missing key surfaces as an
	// upstream connect failure.
	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: UPSTREAM_PROVIDER ("openai" or "gemini")
	if provider := os.Getenv("UPSTREAM_PROVIDER"); provider != "" {
		switch provider {
		case ProviderOpenAI, ProviderGemini:
			config.Provider = provider
		default:
			return nil, fmt.Errorf("invalid UPSTREAM_PROVIDER: must be 'openai' or 'gemini'")
		}
	}

	setString(&config.RealtimeURL, "OPENAI_REALTIME_URL")
	setString(&config.RealtimeModel, "OPENAI_REALTIME_MODEL")
	setString(&config.GeminiModel, "GEMINI_MODEL")
	setString(&config.GeminiVoice, "GEMINI_VOICE")
	setString(&config.Voice, "VOICE")
	setString(&config.GreetingText, "GREETING_TEXT")
	setString(&config.IndexPath, "INDEX_PATH")
	setString(&config.RedisURL, "REDIS_URL")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFile, "LOG_FILE")
	setString(&config.TelemetryDir, "TELEMETRY_DIR")

	if threshold := os.Getenv("VAD_THRESHOLD"); threshold != "" {
		t, err := strconv.ParseFloat(threshold, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VAD_THRESHOLD: %w", err)
		}
		if t < 0 || t > 1 {
			return nil, fmt.Errorf("invalid VAD_THRESHOLD: %v is outside [0, 1]", t)
		}
		config.VADThreshold = t
	}

	if err := setInt(&config.VADPrefixPaddingMs, "VAD_PREFIX_PADDING_MS"); err != nil {
		return nil, err
	}
	if err := setInt(&config.VADSilenceDurationMs, "VAD_SILENCE_DURATION_MS"); err != nil {
		return nil, err
	}
	if err := setInt(&config.MaxSessions, "MAX_SESSIONS"); err != nil {
		return nil, err
	}

	if err := setBool(&config.InterruptOnSpeech, "INTERRUPT_ON_SPEECH"); err != nil {
		return nil, err
	}
	if err := setBool(&config.AllowClientCancel, "ALLOW_CLIENT_CANCEL"); err != nil {
		return nil, err
	}
	if err := setBool(&config.TelemetryEnabled, "TELEMETRY_ENABLED"); err != nil {
		return nil, err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: MAX_MESSAGE_SIZE (in bytes)
	if size := os.Getenv("MAX_MESSAGE_SIZE"); size != "" {
		s, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_MESSAGE_SIZE: %w", err)
		}
		config.MaxMessageSize = s
	}

	// Optional: WRITE_TIMEOUT (in seconds)
	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
		}
		config.WriteTimeout = time.Duration(t) * time.Second
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: LOG_FORMAT ("text" or "json")
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch format {
		case "text", "json":
			config.LogFormat = format
		default:
			return nil, fmt.Errorf("invalid LOG_FORMAT: must be 'text' or 'json'")
		}
	}

	return config, nil
}

// APIKey returns the credential for the configured provider
func (c *Config) APIKey() string {
	if c.Provider == ProviderGemini {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

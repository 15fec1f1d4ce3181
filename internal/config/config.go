package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the iris gateway.
type Config struct {
	APIPort         int
	ClientPort      int
	AdminBindAddr   string
	ServerURL       string
	ShutdownTimeout time.Duration
	AllowAnyOrigin  bool

	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	WhisperHost string
	WhisperPort int
	PiperHost   string
	PiperPort   int

	SpeechProvider      string
	SpeechLanguage      string
	SpeechTimeout       time.Duration
	SpeechFraming       string
	SpeechRetryAttempts int

	PairingTimeout  time.Duration
	IntentPackage   string
	IntentURI       string
	CompanionMaxMsg int64

	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	HistoryLimit  int
}

// WhisperAddr is the host:port of the transcription backend.
func (c Config) WhisperAddr() string {
	return net.JoinHostPort(c.WhisperHost, strconv.Itoa(c.WhisperPort))
}

// PiperAddr is the host:port of the synthesis backend.
func (c Config) PiperAddr() string {
	return net.JoinHostPort(c.PiperHost, strconv.Itoa(c.PiperPort))
}

// Load reads an optional .env file, then environment variables, and
// applies defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AdminBindAddr:    envOrDefault("ADMIN_BIND_ADDR", ":49191"),
		ServerURL:        stringsTrimSpace("SERVER_URL"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "iris"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		WhisperHost:      envOrDefault("WYOMING_WHISPER_HOST", "127.0.0.1"),
		PiperHost:        envOrDefault("WYOMING_PIPER_HOST", "127.0.0.1"),
		SpeechProvider:   strings.ToLower(envOrDefault("SPEECH_PROVIDER", "wyoming")),
		SpeechLanguage:   envOrDefault("SPEECH_LANGUAGE", "en"),
		SpeechFraming:    strings.ToLower(envOrDefault("SPEECH_FRAMING", "marker")),
		IntentPackage:    envOrDefault("COMPANION_INTENT_PACKAGE", "com.iris.companion"),
		IntentURI:        envOrDefault("COMPANION_INTENT_URI", "iris://trigger-call"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		RedisURL:         stringsTrimSpace("REDIS_URL"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.APIPort, err = intFromEnv("API_PORT", 49189); err != nil {
		return Config{}, err
	}
	if cfg.ClientPort, err = intFromEnv("CLIENT_PORT", 49190); err != nil {
		return Config{}, err
	}
	if cfg.WhisperPort, err = intFromEnv("WYOMING_WHISPER_PORT", 10300); err != nil {
		return Config{}, err
	}
	if cfg.PiperPort, err = intFromEnv("WYOMING_PIPER_PORT", 10200); err != nil {
		return Config{}, err
	}
	if cfg.SpeechRetryAttempts, err = intFromEnv("SPEECH_RETRY_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", 100); err != nil {
		return Config{}, err
	}
	maxMsg, err := intFromEnv("COMPANION_MAX_MESSAGE_BYTES", 16<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.CompanionMaxMsg = int64(maxMsg)
	if cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PairingTimeout, err = durationFromEnv("CALL_PAIRING_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", true); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SERVER_URL must be an absolute URL, got %q", c.ServerURL)
	}
	ports := []struct {
		key  string
		port int
	}{
		{"API_PORT", c.APIPort},
		{"CLIENT_PORT", c.ClientPort},
		{"WYOMING_WHISPER_PORT", c.WhisperPort},
		{"WYOMING_PIPER_PORT", c.PiperPort},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", p.key, p.port)
		}
	}
	if c.APIPort == c.ClientPort {
		return fmt.Errorf("API_PORT and CLIENT_PORT must differ")
	}
	switch c.SpeechProvider {
	case "wyoming", "mock":
	default:
		return fmt.Errorf("SPEECH_PROVIDER must be wyoming or mock, got %q", c.SpeechProvider)
	}
	switch c.SpeechFraming {
	case "marker", "length":
	default:
		return fmt.Errorf("SPEECH_FRAMING must be marker or length, got %q", c.SpeechFraming)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.SpeechTimeout <= 0 {
		return fmt.Errorf("SPEECH_TIMEOUT must be positive")
	}
	if c.PairingTimeout < time.Second {
		return fmt.Errorf("CALL_PAIRING_TIMEOUT must be at least 1s")
	}
	if c.SpeechRetryAttempts < 1 {
		return fmt.Errorf("SPEECH_RETRY_ATTEMPTS must be at least 1")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if c.CompanionMaxMsg <= 0 {
		return fmt.Errorf("COMPANION_MAX_MESSAGE_BYTES must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

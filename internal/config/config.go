package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voiceia/internal/logging"
)

// Config stores runtime configuration for the desktop client.
type Config struct {
	API         APIConfig      `yaml:"api"`
	Channel     ChannelConfig  `yaml:"channel"`
	Upload      UploadConfig   `yaml:"upload"`
	State       StateConfig    `yaml:"state"`
	Log         logging.Config `yaml:"log"`
	Dev         bool           `yaml:"dev"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	WSBaseURL string        `yaml:"ws_base_url"`
	Prefix    string        `yaml:"prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Endpoint is the request/response base URL including the version prefix.
func (a APIConfig) Endpoint() string {
	return strings.TrimRight(a.BaseURL, "/") + a.Prefix
}

// WSEndpoint is the realtime base URL including the version prefix.
func (a APIConfig) WSEndpoint() string {
	return strings.TrimRight(a.WSBaseURL, "/") + a.Prefix
}

type ChannelConfig struct {
	PathTemplate    string        `yaml:"path_template"`
	ConnectDebounce time.Duration `yaml:"connect_debounce"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	MaxReconnects   int           `yaml:"max_reconnects"`
}

type UploadConfig struct {
	MaxSizeMB int `yaml:"max_size_mb"`
}

// MaxBytes converts the configured limit to bytes.
func (u UploadConfig) MaxBytes() int64 {
	return int64(u.MaxSizeMB) * 1024 * 1024
}

type StateConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	RedisURL     string `yaml:"redis_url"`
	Namespace    string `yaml:"namespace"`
	HistoryLimit int    `yaml:"history_limit"`
}

const (
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
)

// Load resolves configuration from defaults, an optional YAML file named by
// VOICEIA_CONFIG, .env.local and environment variables, in that order of
// increasing precedence.
func Load() (Config, error) {
	loadDotEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := defaults(home)
	if path := strings.TrimSpace(os.Getenv("VOICEIA_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	wsExplicit := cfg.API.WSBaseURL != ""
	cfg.API.BaseURL = envOrDefault("VOICEIA_API_URL", cfg.API.BaseURL)
	cfg.API.WSBaseURL = envOrDefault("VOICEIA_WS_URL", cfg.API.WSBaseURL)
	if os.Getenv("VOICEIA_WS_URL") == "" && !wsExplicit {
		cfg.API.WSBaseURL = deriveWSURL(cfg.API.BaseURL)
	}
	cfg.API.Prefix = envOrDefault("VOICEIA_API_PREFIX", cfg.API.Prefix)
	cfg.API.Timeout = envOrDefaultMillis("VOICEIA_HTTP_TIMEOUT_MS", cfg.API.Timeout)

	cfg.Channel.ConnectDebounce = envOrDefaultMillis("VOICEIA_CONNECT_DEBOUNCE_MS", cfg.Channel.ConnectDebounce)
	cfg.Channel.ReconnectDelay = envOrDefaultMillis("VOICEIA_RECONNECT_DELAY_MS", cfg.Channel.ReconnectDelay)
	cfg.Channel.MaxReconnects = envOrDefaultInt("VOICEIA_MAX_RECONNECTS", cfg.Channel.MaxReconnects)

	cfg.Upload.MaxSizeMB = envOrDefaultInt("VOICEIA_MAX_UPLOAD_MB", cfg.Upload.MaxSizeMB)

	cfg.State.Backend = strings.ToLower(envOrDefault("VOICEIA_STATE_BACKEND", cfg.State.Backend))
	cfg.State.Path = envOrDefault("VOICEIA_STATE_PATH", cfg.State.Path)
	cfg.State.RedisURL = envOrDefault("VOICEIA_REDIS_URL", cfg.State.RedisURL)
	cfg.State.Namespace = envOrDefault("VOICEIA_STATE_NAMESPACE", cfg.State.Namespace)
	cfg.State.HistoryLimit = envOrDefaultInt("VOICEIA_HISTORY_LIMIT", cfg.State.HistoryLimit)

	cfg.Log.Level = envOrDefault("VOICEIA_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("VOICEIA_LOG_FORMAT", cfg.Log.Format)
	cfg.Dev = envOrDefaultBool("VOICEIA_DEV", cfg.Dev)
	cfg.MetricsAddr = envOrDefault("VOICEIA_METRICS_ADDR", cfg.MetricsAddr)

	normalize(&cfg, home)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults(home string) Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:3203",
			Prefix:  "/api/v1",
			Timeout: 30 * time.Second,
		},
		Channel: ChannelConfig{
			PathTemplate:    "/job/ws/{id}",
			ConnectDebounce: 100 * time.Millisecond,
			ReconnectDelay:  3 * time.Second,
		},
		Upload: UploadConfig{MaxSizeMB: 10},
		State: StateConfig{
			Backend:      StateBackendFile,
			Path:         defaultStatePath(home),
			Namespace:    "audioTranscription",
			HistoryLimit: 20,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

func defaultStatePath(home string) string {
	return filepath.Join(home, ".config", "voiceia", "state.json")
}

func normalize(cfg *Config, home string) {
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Channel.ConnectDebounce <= 0 {
		cfg.Channel.ConnectDebounce = 100 * time.Millisecond
	}
	if cfg.Channel.ReconnectDelay <= 0 {
		cfg.Channel.ReconnectDelay = 3 * time.Second
	}
	if cfg.Channel.MaxReconnects < 0 {
		cfg.Channel.MaxReconnects = 0
	}
	if cfg.Channel.PathTemplate == "" {
		cfg.Channel.PathTemplate = "/job/ws/{id}"
	}
	if cfg.Upload.MaxSizeMB <= 0 {
		cfg.Upload.MaxSizeMB = 10
	}
	if cfg.State.HistoryLimit <= 0 {
		cfg.State.HistoryLimit = 20
	}
	if cfg.State.Namespace == "" {
		cfg.State.Namespace = "audioTranscription"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath(home)
	}
	if strings.HasPrefix(cfg.State.Path, "~/") {
		cfg.State.Path = filepath.Join(home, cfg.State.Path[2:])
	}
}

func validate(cfg Config) error {
	switch cfg.State.Backend {
	case StateBackendFile:
	case StateBackendRedis:
		if cfg.State.RedisURL == "" {
			return errors.New("VOICEIA_REDIS_URL is required when the state backend is redis")
		}
	default:
		return fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("api url must be http or https: %q", cfg.API.BaseURL)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadDotEnv reads .env.local from the working directory or its parent.
// Variables already present in the environment win.
func loadDotEnv() {
	for _, candidate := range []string{".env.local", filepath.Join("..", ".env.local")} {
		err := godotenv.Load(candidate)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return
		}
	}
}

func deriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

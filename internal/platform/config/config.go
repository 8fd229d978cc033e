package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Transport TransportConfig `yaml:"transport"`
	Detection DetectionConfig `yaml:"detection"`
	ASR       ASRConfig       `yaml:"asr"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	IP    string     `yaml:"ip"`
	Port  int        `yaml:"port"`
	Token string     `yaml:"token"`
	Auth  AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Store   StoreConfig `yaml:"store"`
}

type StoreConfig struct {
	Type   string          `yaml:"type"`
	Expiry time.Duration   `yaml:"expiry"`
	Redis  AuthRedisStore  `yaml:"redis,omitempty"`
	Memory AuthMemoryStore `yaml:"memory,omitempty"`
}

type AuthRedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type AuthMemoryStore struct {
	Cleanup time.Duration `yaml:"cleanup"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// WebConfig configures the HTTP collaborator API used for result polling,
// heartbeats and runtime configuration.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig configures the device-facing streaming endpoint. Devices
// connect at Path + "/{deviceId}". Connections silent for longer than
// IdleTimeout are reaped; zero disables the sweep.
type WebSocketConfig struct {
	Enabled     bool          `yaml:"enabled"`
	IP          string        `yaml:"ip"`
	Port        int           `yaml:"port"`
	Path        string        `yaml:"path"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DetectionConfig holds the trigger word list and fuzzy match threshold.
// The word list is replaceable at runtime through the web API; the values
// here only seed the initial list when storage holds none.
type DetectionConfig struct {
	TriggerWords   []string `yaml:"trigger_words"`
	FuzzyThreshold float64  `yaml:"fuzzy_threshold"`
}

// ASRConfig selects and configures the transcription backend. Selected is
// fixed per session; sessions never renegotiate the variant.
type ASRConfig struct {
	Selected  string          `yaml:"selected"`
	Streaming StreamingConfig `yaml:"streaming"`
	Buffered  BufferedConfig  `yaml:"buffered"`
}

// StreamingConfig configures the persistent bidirectional provider channel.
type StreamingConfig struct {
	URL         string `yaml:"url"`
	AppID       string `yaml:"app_id"`
	AccessToken string `yaml:"access_token"`
}

// BufferedConfig configures the windowed transcription path.
type BufferedConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

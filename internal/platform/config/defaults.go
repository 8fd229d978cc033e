package config

import "time"

// DefaultConfig returns the built-in configuration used when no config file
// is present. Values mirror what a single-host deployment expects.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:    "0.0.0.0",
			Port:  8000,
			Token: "your_token",
			Auth: AuthConfig{
				Enabled: false,
				Store: StoreConfig{
					Type:   "memory",
					Expiry: 24 * time.Hour,
					Memory: AuthMemoryStore{
						Cleanup: 5 * time.Minute,
					},
				},
			},
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:     true,
				IP:          "0.0.0.0",
				Port:        8000,
				Path:        "/audio",
				IdleTimeout: 5 * time.Minute,
			},
		},
		Detection: DetectionConfig{
			TriggerWords:   []string{"help", "fire", "alarm"},
			FuzzyThreshold: 0.70,
		},
		ASR: ASRConfig{
			Selected: "buffered",
			Streaming: StreamingConfig{
				URL: "wss://openspeech.example.com/api/v1/stream",
			},
			Buffered: BufferedConfig{
				Model:         "whisper-1",
				FlushInterval: 3 * time.Second,
			},
		},
		Storage: StorageConfig{
			DSN: "data/earwatch.db",
		},
	}
}

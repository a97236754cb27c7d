package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Worker    WorkerConfig
	Ingestion IngestionConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	Upload    UploadConfig
	Dispatch  DispatchConfig
	Wizard    WizardConfig
	Map       MapConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
	AllowOrigins []string
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type IngestionConfig struct {
	Enabled      bool
	FeedURL      string
	PollInterval time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

type AuthConfig struct {
	JWTSecret           string
	TokenTTL            time.Duration
	FederatedIssuer     string
	FederatedPublicKey  string
	RevocationCacheSize int
}

type UploadConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type DispatchConfig struct {
	RecencyWindow time.Duration
}

type WizardConfig struct {
	SessionTTL    time.Duration
	LocateTimeout time.Duration
}

type MapConfig struct {
	TileURL     string
	Attribution string
	Zoom        int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 20),
			AllowOrigins: getEnvList("CORS_ALLOW_ORIGINS", []string{"*"}),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Ingestion: IngestionConfig{
			Enabled:      getEnvBool("ALERT_FEED_ENABLED", false),
			FeedURL:      getEnv("ALERT_FEED_URL", ""),
			PollInterval: getEnvDuration("ALERT_FEED_POLL_INTERVAL", time.Minute),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/green-corridor.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			TokenTTL:            getEnvDuration("TOKEN_TTL", 12*time.Hour),
			FederatedIssuer:     getEnv("FEDERATED_ISSUER", ""),
			FederatedPublicKey:  getEnv("FEDERATED_PUBLIC_KEY_PATH", ""),
			RevocationCacheSize: getEnvInt("REVOCATION_CACHE_SIZE", 4096),
		},
		Upload: UploadConfig{
			URL:     getEnv("IMAGE_UPLOAD_URL", "https://api.imgbb.com/1/upload"),
			APIKey:  getEnv("IMAGE_UPLOAD_API_KEY", ""),
			Timeout: getEnvDuration("IMAGE_UPLOAD_TIMEOUT", 15*time.Second),
		},
		Dispatch: DispatchConfig{
			RecencyWindow: getEnvDuration("DISPATCH_RECENCY_WINDOW", 30*time.Minute),
		},
		Wizard: WizardConfig{
			SessionTTL:    getEnvDuration("WIZARD_SESSION_TTL", 30*time.Minute),
			LocateTimeout: getEnvDuration("WIZARD_LOCATE_TIMEOUT", 10*time.Second),
		},
		Map: MapConfig{
			TileURL:     getEnv("MAP_TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
			Attribution: getEnv("MAP_ATTRIBUTION", "© OpenStreetMap contributors"),
			Zoom:        getEnvInt("MAP_ZOOM", 16),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL < time.Minute {
		return fmt.Errorf("token TTL must be at least 1 minute")
	}

	if c.Ingestion.Enabled {
		if c.Ingestion.FeedURL == "" {
			return fmt.Errorf("ALERT_FEED_URL is required when the alert feed is enabled")
		}
		if c.Ingestion.PollInterval < 10*time.Second {
			return fmt.Errorf("alert feed poll interval must be at least 10 seconds")
		}
	}

	if c.Dispatch.RecencyWindow <= 0 {
		return fmt.Errorf("dispatch recency window must be positive")
	}
	if c.Wizard.LocateTimeout <= 0 {
		return fmt.Errorf("wizard locate timeout must be positive")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// Config aggregates every tunable of the service, loaded from environment
// variables (a .env file is read first in cmd/api).
type Config struct {
	Addr       string `env:"ADDR,default=:8080"`
	BadgerPath string `env:"BADGER_PATH,default=./data/carelink"`

	JWTSecret string        `env:"JWT_SECRET,required=true"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	// ConnectionBufferSize is the per-connection event inbox depth;
	// DeliveryTimeout caps how long fan-out waits on a full inbox.
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=32"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`

	// RingTimeout auto-cancels a ringing call nobody joined.
	RingTimeout time.Duration `env:"RING_TIMEOUT,default=45s"`

	PageSize int `env:"PAGE_SIZE,default=50"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogFile  string `env:"LOG_FILE"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`
}

// Load parses the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr = ":" + cfg.Addr
	}
	return cfg, nil
}

// Origins splits the allowed-origins list.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

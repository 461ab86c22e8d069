package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string        `env:"ADDR,default=:8080"`
	DSN          string        `env:"DB_DSN,required=true"`
	JWTSecret    string        `env:"JWT_SECRET,required=true"`
	JWTIssuer    string        `env:"JWT_ISSUER,default=go-chat-app"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=24h"`
	RedisAddr    string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisChannel string        `env:"REDIS_CHANNEL,default=chat-events"`
	EnableRedis  bool          `env:"ENABLE_REDIS,default=true"`
	SendBuffer   int           `env:"SEND_BUFFER,default=256"`
	HistoryLimit int           `env:"HISTORY_LIMIT,default=200"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
	Env          string        `env:"ENV,default=production"`
}

// Load reads an optional .env file (a missing file is not an error) and then
// the process environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Addr         string        `env:"ADDR,default=:8080"`
	DatabaseDSN  string        `env:"DB_DSN,required=true"`
	DBMaxConns   int           `env:"DB_MAX_CONNS,default=25"`
	JWTSecret    string        `env:"JWT_SECRET,required=true"`
	RedisAddr    string        `env:"REDIS_ADDR,default=localhost:6379"`
	UserCacheTTL time.Duration `env:"USER_CACHE_TTL,default=5m"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

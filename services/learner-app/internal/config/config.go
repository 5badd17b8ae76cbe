package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	APIURL                   string        `env:"WEVERSITY_API_URL"                  envDefault:"http://127.0.0.1:5001"`
	IdentityGRPCAddr         string        `env:"WEVERSITY_IDENTITY_GRPC_ADDR"       envDefault:"127.0.0.1:9091"`
	ServiceAuthToken         string        `env:"WEVERSITY_SERVICE_AUTH_TOKEN"`
	GRPCDialTimeout          time.Duration `env:"WEVERSITY_GRPC_DIAL_TIMEOUT"        envDefault:"3s"`
	StoragePath              string        `env:"WEVERSITY_STORAGE_PATH"             envDefault:"weversity.db"`
	RequireEmailVerification bool          `env:"WEVERSITY_REQUIRE_EMAIL_VERIFICATION"`
	ResendCooldown           time.Duration `env:"WEVERSITY_RESEND_COOLDOWN"          envDefault:"60s"`
	LogLevel                 string        `env:"WEVERSITY_LOG_LEVEL"                envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://127.0.0.1:5001"
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = 60 * time.Second
	}
	if cfg.GRPCDialTimeout <= 0 {
		cfg.GRPCDialTimeout = 3 * time.Second
	}
	return cfg, nil
}

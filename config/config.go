package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config carries every runtime knob the engine reads from the environment.
type Config struct {
	ServiceName string
	LoggerLevel string

	AppPort int

	DatabaseURL    string
	MigrateOnStart bool

	JWTSecret string

	// Promotion worker.
	PromoteInterval  time.Duration
	PromoteBatchSize int
	PromoteTimeout   time.Duration

	// When true, the expiry sweep also expires accepted/approved requests
	// past expires_at and releases the carrier claim.
	ExpireReleasesClaim bool
}

func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "freightflow"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "info"))
	cfg.AppPort = cast.ToInt(getOrReturnDefault("APP_PORT", 8080))

	cfg.DatabaseURL = cast.ToString(getOrReturnDefault("DATABASE_URL", ""))
	cfg.MigrateOnStart = cast.ToBool(getOrReturnDefault("MIGRATE_ON_START", false))

	cfg.JWTSecret = cast.ToString(getOrReturnDefault("JWT_SECRET", ""))

	cfg.PromoteInterval = cast.ToDuration(getOrReturnDefault("PROMOTE_INTERVAL", "5m"))
	cfg.PromoteBatchSize = cast.ToInt(getOrReturnDefault("PROMOTE_BATCH_SIZE", 100))
	cfg.PromoteTimeout = cast.ToDuration(getOrReturnDefault("PROMOTE_TIMEOUT", "10s"))

	cfg.ExpireReleasesClaim = cast.ToBool(getOrReturnDefault("EXPIRE_RELEASES_CLAIM", false))

	return cfg
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	NotifyLog   = "log"
	NotifyAMQP  = "amqp"
	NotifyRedis = "redis"
)

// Config is the full process configuration for cmd/api.
type Config struct {
	Port string

	AuthMode   string
	DevSubject string
	JWT        JWTConfig

	StorageBackend string
	DatabaseURL    string
	DBMaxConns     int

	OutingRegistry           string
	OutingRegistryPermissive bool

	Notify NotifyConfig

	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string
}

type NotifyConfig struct {
	Backend string

	AMQPURL      string
	AMQPExchange string

	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	QueueSize   int
	Workers     int
	MaxAttempts int
}

// Load reads a .env file when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(osEnv{})
}

func load(env osEnv) (Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.Port = env.get("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if cfg.AuthMode, err = env.oneOf("AUTH_MODE", AuthModeJWT, AuthModeJWT, AuthModeDev); err != nil {
		return Config{}, err
	}
	switch cfg.AuthMode {
	case AuthModeJWT:
		if cfg.JWT, err = loadJWT(env); err != nil {
			return Config{}, err
		}
	case AuthModeDev:
		cfg.DevSubject = env.get("DEV_SUBJECT")
		if cfg.DevSubject == "" {
			cfg.DevSubject = "dev|local"
		}
	}

	if cfg.StorageBackend, err = env.oneOf("STORAGE_BACKEND", BackendMemory, BackendMemory, BackendPostgres); err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = env.get("DATABASE_URL")
	if cfg.DBMaxConns, err = env.integer("DB_MAX_CONNS", 10); err != nil {
		return Config{}, err
	}

	if cfg.OutingRegistry, err = env.oneOf("OUTING_REGISTRY", cfg.StorageBackend, BackendMemory, BackendPostgres); err != nil {
		return Config{}, err
	}
	if cfg.OutingRegistryPermissive, err = env.boolean("OUTING_REGISTRY_PERMISSIVE", false); err != nil {
		return Config{}, err
	}
	if (cfg.StorageBackend == BackendPostgres || cfg.OutingRegistry == BackendPostgres) && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND or OUTING_REGISTRY is postgres")
	}

	if cfg.Notify, err = loadNotify(env); err != nil {
		return Config{}, err
	}

	if v := env.get("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	if cfg.LogLevel, err = env.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"); err != nil {
		return Config{}, err
	}
	if cfg.LogFormat, err = env.oneOf("LOG_FORMAT", "json", "json", "text"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadNotify(env osEnv) (NotifyConfig, error) {
	var (
		n   NotifyConfig
		err error
	)
	if n.Backend, err = env.oneOf("NOTIFY_BACKEND", NotifyLog, NotifyLog, NotifyAMQP, NotifyRedis); err != nil {
		return NotifyConfig{}, err
	}

	n.AMQPURL = env.get("AMQP_URL")
	n.AMQPExchange = env.get("AMQP_EXCHANGE")
	if n.AMQPExchange == "" {
		n.AMQPExchange = "carpool.events"
	}
	n.RedisAddr = env.get("REDIS_ADDR")
	n.RedisPassword = env.get("REDIS_PASSWORD")
	n.RedisChannel = env.get("REDIS_CHANNEL")
	if n.RedisChannel == "" {
		n.RedisChannel = "carpool.events"
	}

	switch {
	case n.Backend == NotifyAMQP && n.AMQPURL == "":
		return NotifyConfig{}, fmt.Errorf("AMQP_URL is required when NOTIFY_BACKEND=amqp")
	case n.Backend == NotifyRedis && n.RedisAddr == "":
		return NotifyConfig{}, fmt.Errorf("REDIS_ADDR is required when NOTIFY_BACKEND=redis")
	}

	if n.QueueSize, err = env.integer("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return NotifyConfig{}, err
	}
	if n.Workers, err = env.integer("NOTIFY_WORKERS", 4); err != nil {
		return NotifyConfig{}, err
	}
	if n.MaxAttempts, err = env.integer("NOTIFY_MAX_ATTEMPTS", 5); err != nil {
		return NotifyConfig{}, err
	}
	return n, nil
}

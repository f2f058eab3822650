package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment key, e.g. RELAY_APP_SECRET.
const Prefix = "RELAY"

const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"

	RelayLocal  = "local"
	RelayMemory = "memory"
	RelayRedis  = "redis"
)

type Config struct {
	Addr           string        `envconfig:"ADDR" default:":8080" validate:"required"`
	AppSecret      string        `envconfig:"APP_SECRET" required:"true" validate:"required,min=16"`
	TokenTTL       time.Duration `envconfig:"TOKEN_TTL" default:"24h" validate:"gt=0"`
	RefreshTTL     time.Duration `envconfig:"REFRESH_TTL" default:"168h" validate:"gt=0"`
	StoreBackend   string        `envconfig:"STORE_BACKEND" default:"sqlite" validate:"oneof=sqlite badger"`
	DBPath         string        `envconfig:"DB_PATH" default:"relay.db" validate:"required"`
	BadgerPath     string        `envconfig:"BADGER_PATH" default:"relay-badger"`
	RelayBackend   string        `envconfig:"RELAY_BACKEND" default:"local" validate:"oneof=local memory redis"`
	RedisURL       string        `envconfig:"REDIS_URL" default:"redis://localhost:6379" validate:"required_if=RelayBackend redis"`
	RedisChannel   string        `envconfig:"REDIS_CHANNEL" default:"relay:events"`
	SocketPath     string        `envconfig:"SOCKET_PATH" default:"/api/socket" validate:"startswith=/"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s" validate:"gt=0"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	TLSCert        string        `envconfig:"TLS_CERT" validate:"required_with=TLSKey"`
	TLSKey         string        `envconfig:"TLS_KEY" validate:"required_with=TLSCert"`
	CookieSecure   bool          `envconfig:"COOKIE_SECURE" default:"true"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"30" validate:"gt=0"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"50" validate:"gt=0"`
}

var validate = validator.New()

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StoreBackend == StoreBadger && c.BadgerPath == "" {
		return fmt.Errorf("config: BADGER_PATH is required when STORE_BACKEND=%s", StoreBadger)
	}
	return nil
}

func (c Config) UseTLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

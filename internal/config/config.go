// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotenvFiles are loaded, in order, before the environment is parsed.
// Variables already set in the process environment win.
var DotenvFiles = []string{".env.local", ".env"}

// Config is the full runtime configuration.
type Config struct {
	RabbitMQ RabbitMQ
	MQTT     MQTT
	DB       DB

	RestoreConcurrency int           `env:"RESTORE_CONCURRENCY" envDefault:"4"`
	ProvisionRetries   uint64        `env:"PROVISION_RETRIES" envDefault:"3"`
	MessageRetention   time.Duration `env:"MESSAGE_RETENTION" envDefault:"720h"`
	PruneInterval      time.Duration `env:"PRUNE_INTERVAL" envDefault:"24h"`
	HTTPAddr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	AdminToken         string        `env:"ADMIN_TOKEN"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
}

// RabbitMQ configures the management API client.
type RabbitMQ struct {
	API       string        `env:"RABBITMQ_API" envDefault:"http://localhost:15672/api"`
	AdminUser string        `env:"RABBITMQ_ADMIN_USER" envDefault:"guest"`
	AdminPass string        `env:"RABBITMQ_ADMIN_PASS" envDefault:"guest"`
	Vhost     string        `env:"RABBITMQ_VHOST" envDefault:"/"`
	Timeout   time.Duration `env:"RABBITMQ_ADMIN_TIMEOUT" envDefault:"10s"`
	// PersistDefinitions also records device principals in the broker
	// definitions document.
	PersistDefinitions bool `env:"RABBITMQ_PERSIST_DEFINITIONS" envDefault:"false"`
}

// MQTT configures the publisher connection.
type MQTT struct {
	URL                  string        `env:"MQTT_URL" envDefault:"tcp://localhost:1883"`
	Username             string        `env:"MQTT_USERNAME"`
	Password             string        `env:"MQTT_PASSWORD"`
	ClientIDPrefix       string        `env:"MQTT_CLIENT_ID_PREFIX" envDefault:"indieclock-server"`
	ConnectTimeout       time.Duration `env:"MQTT_CONNECT_TIMEOUT" envDefault:"10s"`
	PublishTimeout       time.Duration `env:"MQTT_PUBLISH_TIMEOUT" envDefault:"5s"`
	MaxReconnectInterval time.Duration `env:"MQTT_MAX_RECONNECT_INTERVAL" envDefault:"30s"`
	// BrokerURL is the address advertised to devices; it defaults to URL.
	BrokerURL string `env:"MQTT_BROKER_URL"`
}

// DB selects the device store.
type DB struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DB_DSN" envDefault:"indieclock.db"`
}

// Load reads dotenv files when present and parses the environment.
func Load() (*Config, error) {
	for _, file := range DotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = cfg.MQTT.URL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DB.Driver))
	}
	if c.RestoreConcurrency < 1 {
		errs = append(errs, fmt.Errorf("RESTORE_CONCURRENCY must be at least 1, got %d", c.RestoreConcurrency))
	}
	if c.MessageRetention <= 0 {
		errs = append(errs, errors.New("MESSAGE_RETENTION must be positive"))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, errors.New("PRUNE_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config/config.yaml"

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Storage    `yaml:"storage"`
	RedisAddr  string `yaml:"redis_addr" env:"REDIS_ADDR"`
	HTTPServer `yaml:"http_server"`
	Auth       `yaml:"auth"`
	Engine     `yaml:"engine"`
	Fanout     `yaml:"fanout"`
	Realtime   `yaml:"realtime"`
	Kafka      `yaml:"kafka"`
}

type Storage struct {
	Driver  string     `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	DSN     string     `yaml:"dsn" env:"STORAGE_DSN"`
	Migrate bool       `yaml:"migrate" env:"STORAGE_MIGRATE" env-default:"true"`
	Seed    []SeedUser `yaml:"seed"`
}

// SeedUser is loaded into the memory driver at start-up.
type SeedUser struct {
	ID        string `yaml:"id"`
	Role      string `yaml:"role"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER" env-default:"studio-schedule"`
}

type Engine struct {
	MaxRetries      int           `yaml:"max_retries" env-default:"3"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env-default:"50ms"`
	DefaultDuration int           `yaml:"default_duration" env-default:"60"`
	Timezone        string        `yaml:"timezone" env:"SCHEDULE_TZ" env-default:"UTC"`
}

type Fanout struct {
	Workers     int           `yaml:"workers" env-default:"4"`
	QueueSize   int           `yaml:"queue_size" env-default:"256"`
	PushTimeout time.Duration `yaml:"push_timeout" env-default:"2s"`
}

type Realtime struct {
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
	WriteWait      time.Duration `yaml:"write_wait" env-default:"10s"`
	PongWait       time.Duration `yaml:"pong_wait" env-default:"60s"`
	SendBuffer     int           `yaml:"send_buffer" env-default:"64"`
	RelayChannel   string        `yaml:"relay_channel" env-default:"schedule:push"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env-default:"schedule.session-events"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}

	for _, u := range c.Storage.Seed {
		if u.ID == "" {
			return fmt.Errorf("storage.seed: user id is required")
		}
		switch u.Role {
		case "admin", "trainer", "client", "user":
		default:
			return fmt.Errorf("storage.seed: user %s has unknown role %q", u.ID, u.Role)
		}
	}

	if c.Fanout.Workers <= 0 {
		return fmt.Errorf("fanout.workers must be positive")
	}

	return nil
}

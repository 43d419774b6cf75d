package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`
	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	Redis struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"redis"`
	Simulation struct {
		// SpeedFactor divides every simulated phase duration. 1 means
		// real-time pacing; 10 runs a full delivery in a few seconds.
		SpeedFactor float64 `yaml:"speed_factor"`
	} `yaml:"simulation"`
}

// LoadFromFile loads config from a YAML file, applies env overrides and
// defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets environment variables win over file values,
// so deployments can keep credentials out of the YAML.
func applyEnvOverrides(cfg *Config) {
	overrideStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	overrideInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	overrideStr(&cfg.Database.Host, "MIXFLEET_DB_HOST")
	overrideInt(&cfg.Database.Port, "MIXFLEET_DB_PORT")
	overrideStr(&cfg.Database.User, "MIXFLEET_DB_USER")
	overrideStr(&cfg.Database.Password, "MIXFLEET_DB_PASSWORD")
	overrideStr(&cfg.Database.Name, "MIXFLEET_DB_NAME")
	overrideStr(&cfg.RabbitMQ.Host, "MIXFLEET_RABBITMQ_HOST")
	overrideInt(&cfg.RabbitMQ.Port, "MIXFLEET_RABBITMQ_PORT")
	overrideStr(&cfg.RabbitMQ.User, "MIXFLEET_RABBITMQ_USER")
	overrideStr(&cfg.RabbitMQ.Password, "MIXFLEET_RABBITMQ_PASSWORD")
	overrideStr(&cfg.Redis.Host, "MIXFLEET_REDIS_HOST")
	overrideInt(&cfg.Redis.Port, "MIXFLEET_REDIS_PORT")
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Simulation.SpeedFactor == 0 {
		cfg.Simulation.SpeedFactor = 1
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database (name) is required")
	}

	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		problems = append(problems, "redis.port must be in 1..65535")
	}

	if c.Simulation.SpeedFactor < 0 {
		problems = append(problems, "simulation.speed_factor must be >= 0")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// RedisAddr renders host:port for the go-redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

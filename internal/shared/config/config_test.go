package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixfleet/internal/shared/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
database:
  host: db.internal
  port: 5433
  user: fleet
  password: secret
  database: mixfleet
rabbitmq:
  user: guest
  password: guest
redis:
  host: cache.internal
simulation:
  speed_factor: 4
`

func TestLoadFromFile(t *testing.T) {
	cfg, err := config.LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "mixfleet", cfg.Database.Name)
	// omitted fields pick up defaults
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 4.0, cfg.Simulation.SpeedFactor)
	assert.Equal(t, "cache.internal:6379", cfg.RedisAddr())
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("MIXFLEET_DB_HOST", "override.internal")
	t.Setenv("MIXFLEET_DB_PORT", "15432")
	t.Setenv("MIXFLEET_RABBITMQ_PASSWORD", "hunter2")

	cfg, err := config.LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "hunter2", cfg.RabbitMQ.Password)
}

func TestMissingRequiredFieldsRejected(t *testing.T) {
	_, err := config.LoadFromFile(writeConfig(t, `
database:
  host: localhost
rabbitmq:
  user: guest
  password: guest
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.user")
}

func TestMissingFileRejected(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultSpeedFactor(t *testing.T) {
	cfg, err := config.LoadFromFile(writeConfig(t, `
database:
  user: fleet
  password: secret
  database: mixfleet
rabbitmq:
  user: guest
  password: guest
`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Simulation.SpeedFactor)
}

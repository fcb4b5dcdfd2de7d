package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, "APP_NAME=booking-engine\n"))
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Payment.Gateway)
	assert.Equal(t, "intent", cfg.Payment.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Booking.ReservationTimeout)
	assert.Equal(t, "kafka", cfg.Events.Broker)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadWithPath_FileOverrides(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, `
SERVER_PORT=9090
KAFKA_BROKERS=k1:9092, k2:9092
EVENTS_BROKER=rabbitmq
BOOKING_RESERVATION_TIMEOUT=5m
SWEEPER_BATCH_SIZE=7
DATABASE_AUTO_MIGRATE=true
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "rabbitmq", cfg.Events.Broker)
	assert.Equal(t, 5*time.Minute, cfg.Booking.ReservationTimeout)
	assert.Equal(t, 7, cfg.Sweeper.BatchSize)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.App.Name = "booking-engine"
		c.App.Environment = "development"
		c.Server.Port = 8080
		c.JWT.Secret = "secret"
		c.Payment.Gateway = "mock"
		c.Payment.Mode = "intent"
		c.Events.Broker = "none"
		c.Booking.ReservationTimeout = time.Minute
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no jwt secret", func(c *Config) { c.JWT.Secret = "" }, true},
		{"mock in production", func(c *Config) { c.App.Environment = "production"; c.JWT.Secret = "real" }, true},
		{"stripe without key", func(c *Config) { c.Payment.Gateway = "stripe" }, true},
		{"stripe without webhook secret", func(c *Config) {
			c.Payment.Gateway = "stripe"
			c.Payment.StripeSecretKey = "sk_test"
		}, true},
		{"stripe configured", func(c *Config) {
			c.Payment.Gateway = "stripe"
			c.Payment.StripeSecretKey = "sk_test"
			c.Payment.StripeWebhookSecret = "whsec"
		}, false},
		{"unknown gateway", func(c *Config) { c.Payment.Gateway = "paypal" }, true},
		{"bad mode", func(c *Config) { c.Payment.Mode = "invoice" }, true},
		{"unknown broker", func(c *Config) { c.Events.Broker = "sqs" }, true},
		{"zero timeout", func(c *Config) { c.Booking.ReservationTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

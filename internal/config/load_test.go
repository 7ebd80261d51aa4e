package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestApp"
	testPort := 9090
	testLogLevel := "debug"
	testLedgerAddresses := "3001, 3002,3003"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nLEDGER_ADDRESSES=%s\nPAYSTACK_SECRET_KEY=sk_test_x\nAUTH_JWT_SECRET=secret\nWEBHOOK_DISPATCH_MODE=QUEUED\n",
		testAppName, testPort, testLogLevel, testLedgerAddresses,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, []string{"3001", "3002", "3003"}, cfg.Ledger.Addresses)
	assert.Equal(t, DispatchQueued, cfg.Webhook.DispatchMode)

	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "escrow_webhook_events", cfg.Kafka.WebhookTopic)
	assert.Equal(t, "ngnLedger", cfg.Ledger.Name)
	assert.Equal(t, time.Second, cfg.Ledger.BalanceTimeout)
	assert.Equal(t, time.Hour, cfg.Escrow.RequestTTL)
	assert.Equal(t, 10, cfg.WorkerPool.Size)

	cfgWithName, err := LoadConfigWithName("configs/test_happy")
	require.NoError(t, err)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestLoadConfig_MissingSecrets(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test_missing")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()
	require.NoError(t, os.Chdir(tempDir))

	cfg, err := LoadConfig("does_not_exist")
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYSTACK_SECRET_KEY is required")
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET is required")
}

func newDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("PAYSTACK_SECRET_KEY", "sk_test_x")
	v.Set("AUTH_JWT_SECRET", "secret")
	return buildConfig(v)
}

func TestConfig_Validate_HappyPath(t *testing.T) {
	cfg := newDefaultConfig()
	assert.NoError(t, cfg.validate(), "Default config should be valid")
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		expected string
	}{
		{"server port", func(c *Config) { c.Server.Port = 0 }, "SERVER_PORT must be greater than 0"},
		{"webhook topic", func(c *Config) { c.Kafka.WebhookTopic = "" }, "KAFKA_WEBHOOK_TOPIC is required"},
		{"ledger addresses", func(c *Config) { c.Ledger.Addresses = nil }, "LEDGER_ADDRESSES is required"},
		{"balance timeout", func(c *Config) { c.Ledger.BalanceTimeout = 0 }, "LEDGER_BALANCE_TIMEOUT must be greater than 0"},
		{"dispatch mode", func(c *Config) { c.Webhook.DispatchMode = "async" }, "WEBHOOK_DISPATCH_MODE must be inline or queued"},
		{"reaper interval", func(c *Config) { c.Reaper.Interval = 0 }, "REAPER_INTERVAL must be greater than 0"},
		{"stale after", func(c *Config) { c.Outbox.StaleAfter = 0 }, "OUTBOX_STALE_AFTER must be greater than 0"},
		{"worker pool", func(c *Config) { c.WorkerPool.Size = 0 }, "WORKER_POOL_SIZE must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaultConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

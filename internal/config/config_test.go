package config

import (
	"testing"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	t.Setenv("DOCLING_TEST_API_KEY", "secret-key")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "http://localhost:5001", cfg.Docling.BaseURL)
			assert.Equal(t, "secret-key", cfg.Docling.APIKey)
			assert.Equal(t, 30*time.Second, cfg.Docling.RequestTimeout)
			assert.Equal(t, 4*time.Second, cfg.Tracking.Polling.Wait)
			assert.Equal(t, "docling_results", cfg.Database.Database)
			assert.Equal(t, "docling_tasks", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, 8, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "docling.", cfg.RabbitMQ.Events.RoutingPrefix)
			assert.Equal(t, "docling-monitor", cfg.App.Name)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Docling: DoclingConfig{BaseURL: "http://localhost:5001"},
		Server:  ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			Database: "docling_results",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "docling_tasks"},
			Queue:    QueueConfig{Name: "docling_track_requests"},
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			JobTimeout:      time.Minute,
			ShutdownTimeout: time.Second,
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.Docling.BaseURL = "" }, errString: "docling base_url is required"},
		{name: "base url without scheme", mutate: func(c *Config) { c.Docling.BaseURL = "localhost:5001" }, errString: "invalid docling base_url"},
		{name: "negative rate limit", mutate: func(c *Config) { c.Docling.RateLimit = -1 }, errString: "rate_limit"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, errString: "invalid logging level"},
		{name: "unknown mode", mutate: func(c *Config) { c.Tracking.Mode = "sideways" }, errString: "unknown tracking mode"},
		{name: "negative poll interval", mutate: func(c *Config) { c.Tracking.Polling.PollInterval = -time.Second }, errString: "polling.poll_interval"},
		{name: "negative retries", mutate: func(c *Config) { c.Tracking.Polling.PollingRetries = -1 }, errString: "polling budgets"},
		{name: "server port too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "server port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "disabled database is not checked", mutate: func(c *Config) { c.Database = DatabaseConfig{} }},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "api does not need a queue", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "rabbitmq disabled", mutate: func(c *Config) { c.RabbitMQ.Enabled = false }, errString: "rabbitmq must be enabled"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "no concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "worker concurrency"},
		{name: "no job timeout", mutate: func(c *Config) { c.Worker.JobTimeout = 0 }, errString: "worker job_timeout"},
		{name: "no shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, errString: "worker shutdown_timeout"},
		{name: "server port is not needed", mutate: func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		assert.NoError(t, cfg.ValidateAPIConfig())
		assert.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid mode", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_mode.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown tracking mode")
	})

	t.Run("minimal config is enough for the api", func(t *testing.T) {
		cfg, err := Load("testdata/minimal.yaml")
		require.NoError(t, err)

		assert.NoError(t, cfg.ValidateAPIConfig())
		assert.Error(t, cfg.ValidateWorkerConfig())
	})
}

func TestTrackingConfig_ToProgressConfig(t *testing.T) {
	t.Run("overlays configured values", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		pc, err := cfg.Tracking.ToProgressConfig()
		require.NoError(t, err)

		assert.Equal(t, progress.ModeHybrid, pc.Mode)
		assert.Equal(t, 3*time.Second, pc.ConnectTimeout)
		assert.Equal(t, 20*time.Second, pc.SilenceWindow)
		assert.Equal(t, 15*time.Minute, pc.Polling.Timeout)
		assert.Equal(t, time.Second, pc.Polling.PollInterval)
		assert.Equal(t, 4*time.Second, pc.Polling.Wait)
		assert.Equal(t, 3, pc.Polling.PollingRetries)
		assert.Equal(t, 500*time.Millisecond, pc.Polling.RetryBaseDelay)
		assert.Equal(t, 3*time.Second, pc.Channel.ConnectTimeout)
		assert.Equal(t, 15*time.Second, pc.Channel.HeartbeatInterval)
		assert.Equal(t, 2, pc.Channel.ProtocolErrorThreshold)
		assert.Equal(t, 4, pc.Channel.Reconnect.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, pc.Channel.Reconnect.BaseDelay)
		assert.Equal(t, 5*time.Second, pc.Channel.Reconnect.MaxDelay)
	})

	t.Run("long poll wait takes a duration", func(t *testing.T) {
		var tc TrackingConfig
		require.NoError(t, yaml.Unmarshal([]byte("polling:\n  wait: 2s\n"), &tc))

		pc, err := tc.ToProgressConfig()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, pc.Polling.Wait)
	})

	t.Run("empty section keeps defaults", func(t *testing.T) {
		pc, err := TrackingConfig{}.ToProgressConfig()
		require.NoError(t, err)
		assert.Equal(t, progress.DefaultConfig(), pc)
	})

	t.Run("pull mode", func(t *testing.T) {
		pc, err := TrackingConfig{Mode: "PULL"}.ToProgressConfig()
		require.NoError(t, err)
		assert.Equal(t, progress.ModePull, pc.Mode)
	})

	t.Run("bad mode", func(t *testing.T) {
		_, err := TrackingConfig{Mode: "sideways"}.ToProgressConfig()
		assert.Error(t, err)
	})
}

func TestClientConfigs(t *testing.T) {
	cfg := validConfig()
	cfg.RabbitMQ.Consumer.PrefetchCount = 3

	publisher := cfg.RabbitMQ.ToClientConfig(false)
	assert.Empty(t, publisher.QueueName)
	assert.Zero(t, publisher.PrefetchCount)
	assert.Equal(t, "topic", publisher.ExchangeType)

	consumer := cfg.RabbitMQ.ToClientConfig(true)
	assert.Equal(t, "docling_track_requests", consumer.QueueName)
	assert.Equal(t, 3, consumer.PrefetchCount)

	db := cfg.Database.ToClientConfig()
	assert.Equal(t, "docling_results", db.Database)

	lc := LoggingConfig{Level: "debug", Format: "console", EnableCaller: true}.ToLoggerConfig()
	assert.True(t, lc.EnableSource)
	assert.Equal(t, "debug", lc.Level)
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}

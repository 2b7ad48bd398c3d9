// Package config loads the YAML configuration shared by the monitor API and the tracker worker.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/backoff"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/shared/logger"
	"github.com/btwld/docling-sdk-sub000/shared/postgresql"
	"github.com/btwld/docling-sdk-sub000/shared/rabbitmq"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Docling  DoclingConfig  `yaml:"docling"`
	Tracking TrackingConfig `yaml:"tracking"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// DoclingConfig points at the conversion service
type DoclingConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit"`
}

// TrackingConfig holds the defaults applied to every tracked job
type TrackingConfig struct {
	Mode           string          `yaml:"mode"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	SilenceWindow  time.Duration   `yaml:"silence_window"`
	Polling        PollingConfig   `yaml:"polling"`
	WebSocket      WebSocketConfig `yaml:"websocket"`
}

// PollingConfig configures the pull channel
type PollingConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
	Wait           time.Duration `yaml:"wait"`
	PollingRetries int           `yaml:"polling_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// WebSocketConfig configures the push channel
type WebSocketConfig struct {
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	ReconnectAttempts      int           `yaml:"reconnect_attempts"`
	ReconnectBaseDelay     time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay      time.Duration `yaml:"reconnect_max_delay"`
	ProtocolErrorThreshold int           `yaml:"protocol_error_threshold"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Events     EventsConfig     `yaml:"events"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// EventsConfig controls what the event publisher sends
type EventsConfig struct {
	RoutingPrefix   string `yaml:"routing_prefix"`
	PublishProgress bool   `yaml:"publish_progress"`
}

// WorkerConfig holds tracker worker configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, expanding ${VAR} references from the environment
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks the sections every executable needs
func (c *Config) Validate() error {
	if c.Docling.BaseURL == "" {
		return fmt.Errorf("docling base_url is required")
	}
	u, err := url.Parse(c.Docling.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid docling base_url: %q", c.Docling.BaseURL)
	}

	if c.Docling.RateLimit < 0 {
		return fmt.Errorf("docling rate_limit must not be negative")
	}

	if c.Logging.Level != "" && !logger.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	return c.Tracking.Validate()
}

// Validate checks the tracking defaults
func (t *TrackingConfig) Validate() error {
	if _, err := progress.ParseMode(t.Mode); err != nil {
		return err
	}

	durations := map[string]time.Duration{
		"connect_timeout":                t.ConnectTimeout,
		"silence_window":                 t.SilenceWindow,
		"polling.timeout":                t.Polling.Timeout,
		"polling.poll_interval":          t.Polling.PollInterval,
		"polling.wait":                   t.Polling.Wait,
		"websocket.connect_timeout":      t.WebSocket.ConnectTimeout,
		"websocket.heartbeat_interval":   t.WebSocket.HeartbeatInterval,
		"websocket.reconnect_base_delay": t.WebSocket.ReconnectBaseDelay,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("tracking %s must not be negative", name)
		}
	}

	if t.Polling.MaxPolls < 0 || t.Polling.PollingRetries < 0 {
		return fmt.Errorf("tracking polling budgets must not be negative")
	}
	if t.WebSocket.ReconnectAttempts < 0 || t.WebSocket.ProtocolErrorThreshold < 0 {
		return fmt.Errorf("tracking websocket budgets must not be negative")
	}

	return nil
}

// ValidateAPIConfig checks the monitor API configuration
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return err
		}
	}

	if c.RabbitMQ.Enabled {
		if err := c.RabbitMQ.validate(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the tracker worker configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if !c.RabbitMQ.Enabled {
		return fmt.Errorf("rabbitmq must be enabled for the worker")
	}
	if err := c.RabbitMQ.validate(); err != nil {
		return err
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return err
		}
	}

	var errs []error
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be greater than 0"))
	}
	if c.Worker.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker job_timeout must be greater than 0"))
	}
	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker shutdown_timeout must be greater than 0"))
	}
	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if d.Port < MinPort || d.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", d.Port, MinPort, MaxPort)
	}
	if d.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (r *RabbitMQConfig) validate() error {
	if r.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if r.Port < MinPort || r.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", r.Port, MinPort, MaxPort)
	}
	if r.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

// ToProgressConfig overlays the configured values on the component defaults
func (t TrackingConfig) ToProgressConfig() (progress.Config, error) {
	cfg := progress.DefaultConfig()

	mode, err := progress.ParseMode(t.Mode)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	setDuration(&cfg.ConnectTimeout, t.ConnectTimeout)
	setDuration(&cfg.SilenceWindow, t.SilenceWindow)

	p := &cfg.Polling
	setDuration(&p.Timeout, t.Polling.Timeout)
	setDuration(&p.PollInterval, t.Polling.PollInterval)
	setDuration(&p.Wait, t.Polling.Wait)
	setDuration(&p.RetryBaseDelay, t.Polling.RetryBaseDelay)
	setDuration(&p.RetryMaxDelay, t.Polling.RetryMaxDelay)
	setInt(&p.MaxPolls, t.Polling.MaxPolls)
	setInt(&p.PollingRetries, t.Polling.PollingRetries)

	ch := &cfg.Channel
	ch.ConnectTimeout = cfg.ConnectTimeout
	setDuration(&ch.ConnectTimeout, t.WebSocket.ConnectTimeout)
	setDuration(&ch.HeartbeatInterval, t.WebSocket.HeartbeatInterval)
	setInt(&ch.ProtocolErrorThreshold, t.WebSocket.ProtocolErrorThreshold)
	ch.Reconnect = reconnectPolicy(ch.Reconnect, t.WebSocket)

	return cfg, nil
}

func reconnectPolicy(p backoff.Policy, ws WebSocketConfig) backoff.Policy {
	setInt(&p.MaxAttempts, ws.ReconnectAttempts)
	setDuration(&p.BaseDelay, ws.ReconnectBaseDelay)
	setDuration(&p.MaxDelay, ws.ReconnectMaxDelay)
	return p
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// ToLoggerConfig converts the logging section
func (l LoggingConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        l.Level,
		Format:       l.Format,
		Output:       l.Output,
		EnableSource: l.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      l.NoColor,
	}
}

// ToClientConfig converts the database section
func (d DatabaseConfig) ToClientConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// ToClientConfig converts the rabbitmq section. Publish-only clients skip the queue.
func (r RabbitMQConfig) ToClientConfig(withQueue bool) *rabbitmq.Config {
	cfg := &rabbitmq.Config{
		Host:               r.Host,
		Port:               r.Port,
		User:               r.User,
		Password:           r.Password,
		VHost:              r.VHost,
		ExchangeName:       r.Exchange.Name,
		ExchangeType:       r.Exchange.Type,
		ExchangeDurable:    r.Exchange.Durable,
		ExchangeAutoDelete: r.Exchange.AutoDelete,
		RoutingKey:         r.RoutingKey,
		RetryAttempts:      r.Connection.RetryAttempts,
		RetryInterval:      r.Connection.RetryInterval,
		Heartbeat:          r.Connection.Heartbeat,
		ConnectionTimeout:  r.Connection.ConnectionTimeout,
		PublishRetries:     r.Publish.RetryAttempts,
		PublishRetryDelay:  r.Publish.RetryInterval,
		PublishBackoffMult: r.Publish.BackoffMultiplier,
	}
	if withQueue {
		cfg.QueueName = r.Queue.Name
		cfg.QueueDurable = r.Queue.Durable
		cfg.QueueAutoDelete = r.Queue.AutoDelete
		cfg.QueueExclusive = r.Queue.Exclusive
		cfg.PrefetchCount = r.Consumer.PrefetchCount
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = "topic"
	}
	return cfg
}

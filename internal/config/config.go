package config

import (
	"fmt"
	"os"
	"time"

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
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Embed    EmbedConfig    `yaml:"embed"`
	Host     HostConfig     `yaml:"host"`
	Run      RunConfig      `yaml:"run"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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
	// MigrationsDir is applied at API startup when set
	MigrationsDir string `yaml:"migrations_dir"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
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
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
}

// DeadLetterConfig names where rejected batch messages are routed
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
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
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// EmbedConfig holds the insert pipeline timings
type EmbedConfig struct {
	SettleDelay     time.Duration `yaml:"settle_delay"`
	Watchdog        time.Duration `yaml:"watchdog"`
	MeasureAttempts int           `yaml:"measure_attempts"`
	MeasureInterval time.Duration `yaml:"measure_interval"`
	QuiesceTimeout  time.Duration `yaml:"quiesce_timeout"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
}

// HostConfig selects and tunes the drawing host adapter
type HostConfig struct {
	Driver        string            `yaml:"driver"`
	Channel       string            `yaml:"channel"`
	DecimalComma  bool              `yaml:"decimal_comma"`
	Direct        bool              `yaml:"direct"`
	UnitsPerPixel float64           `yaml:"units_per_pixel"`
	Flags         map[string]string `yaml:"flags"`
}

// RunConfig holds the default save options applied to batches that do not
// carry their own
type RunConfig struct {
	Overwrite    bool   `yaml:"overwrite"`
	Backup       bool   `yaml:"backup"`
	SameFolder   bool   `yaml:"same_folder"`
	OutputFolder string `yaml:"output_folder"`
	Prefix       string `yaml:"prefix"`
	Suffix       string `yaml:"suffix"`
	LogFolder    string `yaml:"log_folder"`
}

// Supported host drivers and insertion channels
const (
	DriverSim        = "sim"
	ChannelMemory    = "memory"
	ChannelClipboard = "clipboard"
)

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.DeadLetter.Queue != "" && c.RabbitMQ.DeadLetter.Exchange == "" {
		return fmt.Errorf("rabbitmq dead_letter exchange is required when a dead_letter queue is set")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	// the drawing host runs one command at a time
	if c.Worker.Concurrency != 1 {
		return fmt.Errorf("worker concurrency must be 1, got %d", c.Worker.Concurrency)
	}

	if c.Worker.BatchTimeout <= 0 {
		return fmt.Errorf("worker batch_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.ValidateEngineConfig()
}

// ValidateEngineConfig checks the embed timings and the host section
func (c *Config) ValidateEngineConfig() error {
	if err := c.Embed.validate(); err != nil {
		return err
	}

	return c.Host.validate()
}

func (e EmbedConfig) validate() error {
	durations := map[string]time.Duration{
		"settle_delay":     e.SettleDelay,
		"watchdog":         e.Watchdog,
		"measure_interval": e.MeasureInterval,
		"quiesce_timeout":  e.QuiesceTimeout,
		"idle_interval":    e.IdleInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("embed %s must not be negative", name)
		}
	}

	if e.MeasureAttempts < 0 {
		return fmt.Errorf("embed measure_attempts must not be negative")
	}

	if e.Watchdog > 0 && e.SettleDelay >= e.Watchdog {
		return fmt.Errorf("embed settle_delay must be shorter than watchdog")
	}

	return nil
}

func (h HostConfig) validate() error {
	switch h.Driver {
	case DriverSim:
	case "":
		return fmt.Errorf("host driver is required")
	default:
		return fmt.Errorf("unsupported host driver: %s", h.Driver)
	}

	switch h.Channel {
	case "", ChannelMemory, ChannelClipboard:
	default:
		return fmt.Errorf("unsupported insertion channel: %s", h.Channel)
	}

	if h.UnitsPerPixel < 0 {
		return fmt.Errorf("host units_per_pixel must not be negative")
	}

	return nil
}

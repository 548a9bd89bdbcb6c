package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Delivery  DeliveryConfig
	Health    HealthConfig
	Providers []ProviderConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// DeliveryConfig holds quality adaptation configuration
type DeliveryConfig struct {
	CatalogPath          string
	ReferenceBandwidth   int64   // bps used to normalize the bandwidth score
	BandwidthHeadroom    float64 // fraction of measured bandwidth usable by the selected rung
	SwitchCooldown       time.Duration
	UpgradeConfirmations int // qualifying samples required before an upgrade applies
	HistorySize          int // bandwidth samples kept per session for stability scoring
	SessionIdleTTL       time.Duration
	SampleRetention      time.Duration
}

// HealthConfig holds provider health monitoring configuration
type HealthConfig struct {
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	ScoreWindow        int     // probes averaged into the rolling score
	MinThroughputMbps  float64 // below this the throughput penalty applies
	HighThroughputMbps float64
	RedundantPushes    int
}

// ProviderConfig holds one distribution provider registry entry
type ProviderConfig struct {
	Name         string
	Type         string // http, s3
	Priority     int
	Regions      []string
	Capabilities []string
	PricePerGB   float64

	// http provider
	BaseURL   string
	AuthToken string

	// s3 provider
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	PublicBaseURL   string
}

// NotifyConfig holds webhook notification configuration
type NotifyConfig struct {
	Endpoints []string
	Secret    string
	Timeout   time.Duration
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks startup-fatal configuration errors. An empty provider
// registry is a configuration error and must fail here, never at request
// time.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("provider registry is empty: at least one distribution provider must be configured")
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		switch p.Type {
		case "http", "s3":
		default:
			return fmt.Errorf("provider %q has unknown type %q", p.Name, p.Type)
		}
	}
	if c.Delivery.BandwidthHeadroom <= 0 || c.Delivery.BandwidthHeadroom > 1 {
		return fmt.Errorf("delivery.bandwidthHeadroom must be in (0,1], got %v", c.Delivery.BandwidthHeadroom)
	}
	if c.Health.ScoreWindow < 1 {
		return fmt.Errorf("health.scoreWindow must be >= 1, got %d", c.Health.ScoreWindow)
	}
	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "delivery")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Delivery defaults
	viper.SetDefault("delivery.referenceBandwidth", 10000000) // 10 Mbps
	viper.SetDefault("delivery.bandwidthHeadroom", 0.8)
	viper.SetDefault("delivery.switchCooldown", "10s")
	viper.SetDefault("delivery.upgradeConfirmations", 1)
	viper.SetDefault("delivery.historySize", 8)
	viper.SetDefault("delivery.sessionIdleTTL", "30m")
	viper.SetDefault("delivery.sampleRetention", "24h")

	// Health defaults
	viper.SetDefault("health.probeInterval", "5m")
	viper.SetDefault("health.probeTimeout", "5s")
	viper.SetDefault("health.scoreWindow", 3)
	viper.SetDefault("health.minThroughputMbps", 100)
	viper.SetDefault("health.highThroughputMbps", 1000)
	viper.SetDefault("health.redundantPushes", 2)

	// Notify defaults
	viper.SetDefault("notify.timeout", "10s")

	// Metrics defaults
	viper.SetDefault("metrics.port", 9090)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.serviceName", "delivery")
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Hyperfeed HyperfeedConfig `yaml:"hyperfeed"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Source    SourceConfig    `yaml:"source"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type HyperfeedConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool `yaml:"cloudwatch_enabled"`
	ChannelSize       bool `yaml:"channel_size"`
}

type ChannelsConfig struct {
	FrameBuffer  int `yaml:"frame_buffer"`
	RecordBuffer int `yaml:"record_buffer"`
}

type SourceConfig struct {
	Hyperliquid HyperliquidSourceConfig `yaml:"hyperliquid"`
}

type HyperliquidSourceConfig struct {
	WsURL        string        `yaml:"ws_url"`
	InfoURL      string        `yaml:"info_url"`
	Coins        []string      `yaml:"coins"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls the websocket retry loop. Delays double after
// every failed attempt up to MaxDelay, with jitter applied on top.
// MaxAttempts of zero retries forever.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type ProcessorConfig struct {
	DepthLevels int  `yaml:"depth_levels"`
	AllTrades   bool `yaml:"all_trades"`
}

type EnrichConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type WriterConfig struct {
	FlushInterval time.Duration      `yaml:"flush_interval"`
	CSV           CSVSinkConfig      `yaml:"csv"`
	Console       ConsoleSinkConfig  `yaml:"console"`
	Kafka         KafkaSinkConfig    `yaml:"kafka"`
	Partitioning  PartitioningConfig `yaml:"partitioning"`
	Parquet       ParquetConfig      `yaml:"parquet"`
}

type CSVSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ConsoleSinkConfig struct {
	Enabled bool `yaml:"enabled"`
	Levels  int  `yaml:"levels"`
}

type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

// DefaultConfigPath is the configuration file used when no -config flag is
// provided. Environment specific variants (config.production.yml,
// config.staging.yml) take precedence when APP_ENV selects them.
const DefaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ChannelSize: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	// Target coins may be overridden without editing the file
	if v := os.Getenv("HYPERFEED_COINS"); v != "" {
		coins := strings.Split(v, ",")
		for i := range coins {
			coins[i] = strings.TrimSpace(coins[i])
		}
		config.Source.Hyperliquid.Coins = coins
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Processor.DepthLevels <= 0 {
		cfg.Processor.DepthLevels = 10
	}
	if cfg.Writer.Console.Levels <= 0 {
		cfg.Writer.Console.Levels = 20
	}
	if cfg.Reader.Timeout <= 0 {
		cfg.Reader.Timeout = 10 * time.Second
	}
	if cfg.Reader.Reconnect.BaseDelay <= 0 {
		cfg.Reader.Reconnect.BaseDelay = time.Second
	}
	if cfg.Reader.Reconnect.MaxDelay <= 0 {
		cfg.Reader.Reconnect.MaxDelay = 30 * time.Second
	}
	if cfg.Source.Hyperliquid.PingInterval <= 0 {
		cfg.Source.Hyperliquid.PingInterval = 50 * time.Second
	}
	if cfg.Enrich.Timeout <= 0 {
		cfg.Enrich.Timeout = 5 * time.Second
	}
	if cfg.Enrich.RequestsPerSecond <= 0 {
		cfg.Enrich.RequestsPerSecond = 10
	}
	if cfg.Enrich.Burst <= 0 {
		cfg.Enrich.Burst = cfg.Enrich.RequestsPerSecond
	}
	if cfg.Writer.FlushInterval <= 0 {
		cfg.Writer.FlushInterval = 10 * time.Second
	}
	if cfg.Writer.Partitioning.TimeFormat == "" {
		cfg.Writer.Partitioning.TimeFormat = "year={year}/month={month}/day={day}/hour={hour}"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Hyperfeed.Name == "" {
		return fmt.Errorf("hyperfeed.name is required")
	}

	if cfg.Hyperfeed.Version == "" {
		return fmt.Errorf("hyperfeed.version is required")
	}

	if cfg.Channels.FrameBuffer <= 0 {
		return fmt.Errorf("channels.frame_buffer must be greater than 0")
	}
	if cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.record_buffer must be greater than 0")
	}

	if cfg.Source.Hyperliquid.WsURL == "" {
		return fmt.Errorf("source.hyperliquid.ws_url is required")
	}
	if cfg.Source.Hyperliquid.InfoURL == "" {
		return fmt.Errorf("source.hyperliquid.info_url is required")
	}
	if len(cfg.Source.Hyperliquid.Coins) == 0 {
		return fmt.Errorf("source.hyperliquid.coins must name at least one coin")
	}

	if !cfg.Writer.CSV.Enabled && !cfg.Writer.Console.Enabled &&
		!cfg.Writer.Kafka.Enabled && !cfg.Storage.S3.Enabled {
		return fmt.Errorf("at least one sink must be enabled")
	}
	if cfg.Writer.CSV.Enabled && cfg.Writer.CSV.Path == "" {
		return fmt.Errorf("writer.csv.path is required when the CSV sink is enabled")
	}
	if cfg.Writer.Kafka.Enabled {
		if len(cfg.Writer.Kafka.Brokers) == 0 {
			return fmt.Errorf("writer.kafka.brokers is required when the Kafka sink is enabled")
		}
		if cfg.Writer.Kafka.Topic == "" {
			return fmt.Errorf("writer.kafka.topic is required when the Kafka sink is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "KAKAROT"

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StarknetConfig struct {
	RPCUrl           string `mapstructure:"rpc_url" validate:"required,url"`
	KakarotAddress   string `mapstructure:"kakarot_address" validate:"required,hexadecimal"`
	AccountClassHash string `mapstructure:"account_class_hash" validate:"required,hexadecimal"`
	// Empty means the chain id is fetched from the sequencer at startup
	ChainID string `mapstructure:"chain_id"`
}

type DatabaseConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
	URL           string `mapstructure:"url" validate:"required_unless=Driver memory"`
	MongoDatabase string `mapstructure:"mongo_database" validate:"required_if=Driver mongo"`
}

type BackoffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
}

type RelayerConfig struct {
	MaxRetries       uint8         `mapstructure:"max_retries"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	WatchInterval    time.Duration `mapstructure:"watch_interval" validate:"gt=0"`
	BatchSize        int           `mapstructure:"batch_size" validate:"gt=0"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gt=0"`
	AddressCacheSize int           `mapstructure:"address_cache_size" validate:"gte=0"`
	// Confirmed records older than this are evicted and stop resolving, zero keeps them
	Retention        time.Duration `mapstructure:"retention" validate:"gte=0"`
	Backoff          BackoffConfig `mapstructure:"backoff"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type EventBusConfig struct {
	BufferSize int `mapstructure:"buffer_size" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Starknet StarknetConfig `mapstructure:"starknet"`
	Database DatabaseConfig `mapstructure:"database"`
	Relayer  RelayerConfig  `mapstructure:"relayer"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	EventBus EventBusConfig `mapstructure:"event_bus"`
	Log      LogConfig      `mapstructure:"log"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_path", "data")

	v.SetDefault("server.address", ":3030")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("starknet.rpc_url", "")
	v.SetDefault("starknet.kakarot_address", "")
	v.SetDefault("starknet.account_class_hash", "")
	v.SetDefault("starknet.chain_id", "")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.mongo_database", "kakarot")

	v.SetDefault("relayer.max_retries", 10)
	v.SetDefault("relayer.retry_interval", 10*time.Second)
	v.SetDefault("relayer.watch_interval", 5*time.Second)
	v.SetDefault("relayer.batch_size", 100)
	v.SetDefault("relayer.concurrency", 8)
	v.SetDefault("relayer.address_cache_size", 4096)
	v.SetDefault("relayer.retention", 0)
	v.SetDefault("relayer.backoff.initial_interval", 10*time.Second)
	v.SetDefault("relayer.backoff.max_interval", 5*time.Minute)
	v.SetDefault("relayer.backoff.multiplier", 2.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "kakarot-relayer")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("event_bus.buffer_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads <config_path>/<env>.yaml, then applies KAKAROT_ prefixed
// environment overrides, e.g. KAKAROT_DATABASE_URL. A .env file in the working
// directory is loaded first when present.
func Load(env string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if env != "" {
		v.SetConfigFile(filepath.Join(v.GetString("config_path"), env+".yaml"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

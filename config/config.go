package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EngineConfig configures the embedded DuckDB instance
type EngineConfig struct {
	Path              string   `mapstructure:"path"`
	Extensions        []string `mapstructure:"extensions"`
	InstallExtensions bool     `mapstructure:"install_extensions"`
	Threads           int      `mapstructure:"threads"`
	MemoryLimit       string   `mapstructure:"memory_limit"`
}

type WriterConfig struct {
	RowGroupSize int    `mapstructure:"row_group_size"`
	Compression  string `mapstructure:"compression"`
}

type VerifyConfig struct {
	SampleSize int `mapstructure:"sample_size"`
	// SortedDistanceThreshold is the average neighbour distance below which
	// a file counts as spatially sorted
	SortedDistanceThreshold float64 `mapstructure:"sorted_distance_threshold"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type OutputConfig struct {
	Root string `mapstructure:"root"`
}

type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Writer WriterConfig `mapstructure:"writer"`
	Verify VerifyConfig `mapstructure:"verify"`
	Log    LogConfig    `mapstructure:"log"`
	Output OutputConfig `mapstructure:"output"`
}

const envPrefix = "GEOANALYTICS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.path", "")
	v.SetDefault("engine.extensions", []string{"spatial", "h3"})
	v.SetDefault("engine.install_extensions", false)
	v.SetDefault("engine.threads", 0)
	v.SetDefault("engine.memory_limit", "")
	v.SetDefault("writer.row_group_size", 75000)
	v.SetDefault("writer.compression", "ZSTD")
	v.SetDefault("verify.sample_size", 1000)
	v.SetDefault("verify.sorted_distance_threshold", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("output.root", "./data")
}

// Load reads configuration from the optional file at path and from
// GEOANALYTICS_* environment variables, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Writer.RowGroupSize <= 0 {
		return fmt.Errorf("writer.row_group_size must be positive, got %d", c.Writer.RowGroupSize)
	}
	if c.Writer.Compression == "" {
		return fmt.Errorf("writer.compression must not be empty")
	}
	if c.Verify.SampleSize <= 0 {
		return fmt.Errorf("verify.sample_size must be positive, got %d", c.Verify.SampleSize)
	}
	if c.Verify.SortedDistanceThreshold <= 0 {
		return fmt.Errorf("verify.sorted_distance_threshold must be positive")
	}
	return nil
}

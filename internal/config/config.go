package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

// EnvPrefix prefixes environment overrides, e.g. HTMLLAYOUT_PARSE_MODE.
const EnvPrefix = "HTMLLAYOUT"

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Debug    bool         `mapstructure:"debug"`
	Module   ModuleConfig `mapstructure:"module"`
	Fonts    FontsConfig  `mapstructure:"fonts"`
	Parse    ParseConfig  `mapstructure:"parse"`
}

// ModuleConfig locates the layout module and bounds its runtime.
type ModuleConfig struct {
	// Path to the compiled layout module (.wasm).
	Path string `mapstructure:"path"`
	// Memory limit per instance (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Compilation cache directory. Empty disables the on-disk cache.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances"`
}

// FontsConfig points at the font manifest preloaded at startup.
type FontsConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// ParseConfig holds per-parse defaults.
type ParseConfig struct {
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Mode           string        `mapstructure:"mode"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ValidationError reports one invalid setting.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Reason)
}

// Load reads configuration from defaults, the optional file at configPath
// and HTMLLAYOUT_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)

	v.SetDefault("module.path", "")
	v.SetDefault("module.memory_pages", 256) // 16MB
	v.SetDefault("module.cache_dir", "")
	v.SetDefault("module.max_instances", 100)

	v.SetDefault("fonts.manifest", "")

	v.SetDefault("parse.viewport_width", 800)
	v.SetDefault("parse.viewport_height", 0)
	v.SetDefault("parse.mode", string(protocol.ShapeFlat))
	v.SetDefault("parse.timeout", "0s")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
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

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var err error

	if _, lerr := zapcore.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, &ValidationError{Key: "log_level", Reason: lerr.Error()})
	}
	if c.Module.MemoryPages == 0 || c.Module.MemoryPages > 65536 {
		err = multierr.Append(err, &ValidationError{
			Key:    "module.memory_pages",
			Reason: fmt.Sprintf("must be between 1 and 65536, got %d", c.Module.MemoryPages),
		})
	}
	if c.Module.MaxInstances < 0 {
		err = multierr.Append(err, &ValidationError{Key: "module.max_instances", Reason: "must not be negative"})
	}
	if c.Parse.ViewportWidth <= 0 {
		err = multierr.Append(err, &ValidationError{
			Key:    "parse.viewport_width",
			Reason: fmt.Sprintf("must be positive, got %d", c.Parse.ViewportWidth),
		})
	}
	if c.Parse.ViewportHeight < 0 {
		err = multierr.Append(err, &ValidationError{Key: "parse.viewport_height", Reason: "must not be negative"})
	}
	if _, serr := protocol.ParseShape(c.Parse.Mode); serr != nil {
		err = multierr.Append(err, &ValidationError{Key: "parse.mode", Reason: serr.Error()})
	}
	if c.Parse.Timeout < 0 {
		err = multierr.Append(err, &ValidationError{Key: "parse.timeout", Reason: "must not be negative"})
	}

	return err
}

// Package config loads agentloop settings from a YAML file, AGENTLOOP_*
// environment variables and bound command-line flags, in increasing order
// of precedence.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentloop/logging"
)

// EnvPrefix prefixes every environment variable, e.g. AGENTLOOP_MAX_ITERATIONS.
const EnvPrefix = "agentloop"

// Config holds the runtime settings of the CLI.
type Config struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=openai anthropic scripted"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api-key"`

	Mode         string `mapstructure:"mode" validate:"oneof=function react codeact"`
	Stream       bool   `mapstructure:"stream"`
	Instructions string `mapstructure:"instructions"`

	MaxIterations int           `mapstructure:"max-iterations" validate:"gte=1"`
	MaxReplans    int           `mapstructure:"max-replans" validate:"gte=1"`
	MaxParallel   int           `mapstructure:"max-parallel" validate:"gte=0"`
	CallTimeout   time.Duration `mapstructure:"call-timeout" validate:"gte=0"`
	MaxTurns      int           `mapstructure:"max-turns" validate:"gte=0"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=json text console"`
	LogLib    string `mapstructure:"log-lib" validate:"oneof=slog zap zerolog"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Provider:      "scripted",
		Mode:          "function",
		MaxIterations: 10,
		MaxReplans:    25,
		MaxParallel:   8,
		CallTimeout:   30 * time.Second,
		LogLevel:      "warn",
		LogFormat:     "console",
		LogLib:        "zerolog",
	}
}

// Load reads the configuration. path may be empty, in which case
// agentloop.yaml is searched in the working directory and
// $HOME/.agentloop; a missing file is not an error. bind hooks run before
// unmarshalling and typically bind cobra flags.
func Load(path string, bind ...func(v *viper.Viper) error) (*Config, error) {
	v := viper.New()

	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentloop")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, fn := range bind {
		if err := fn(v); err != nil {
			return nil, errors.Wrap(err, "bind config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("api-key", d.APIKey)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("stream", d.Stream)
	v.SetDefault("instructions", d.Instructions)
	v.SetDefault("max-iterations", d.MaxIterations)
	v.SetDefault("max-replans", d.MaxReplans)
	v.SetDefault("max-parallel", d.MaxParallel)
	v.SetDefault("call-timeout", d.CallTimeout)
	v.SetDefault("max-turns", d.MaxTurns)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("log-lib", d.LogLib)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// NewLogger builds the configured logger writing to w.
func (c *Config) NewLogger(w io.Writer) (logging.Logger, error) {
	level := logging.ParseLevel(c.LogLevel)

	switch c.LogLib {
	case "zap":
		return logging.NewZapLogger(w, level), nil
	case "slog":
		cfg := logging.DefaultLoggerConfig()
		cfg.Level = level
		cfg.Output = w
		if c.LogFormat == "text" || c.LogFormat == "console" {
			cfg.Format = "text"
		}
		return logging.NewLogger(cfg), nil
	default:
		return logging.NewConsoleLogger(w, level), nil
	}
}

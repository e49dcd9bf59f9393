package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/wayneos/wayned/internal/distribution"
)

// EnvPrefix prefixes every environment override, e.g. WAYNED_SERVER_LISTEN.
const EnvPrefix = "WAYNED"

// Config represents the wayned configuration
type Config struct {
	Server      Server      `mapstructure:"server"`
	Interpreter Interpreter `mapstructure:"interpreter"`
	Kernel      Kernel      `mapstructure:"kernel"`
	Session     Session     `mapstructure:"session"`
}

// Server contains the listener settings
type Server struct {
	Listen       string        `mapstructure:"listen"`
	AuthToken    string        `mapstructure:"auth_token"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// Interpreter contains the interpretation service provider and credentials
type Interpreter struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Kernel describes how each session launches its kernel process
type Kernel struct {
	Binary      string        `mapstructure:"binary"`
	Args        []string      `mapstructure:"args"`
	Dir         string        `mapstructure:"dir"`
	Env         []string      `mapstructure:"env"`
	Grace       time.Duration `mapstructure:"grace"`
	Settle      time.Duration `mapstructure:"settle"`
	KillTimeout time.Duration `mapstructure:"kill_timeout"`
}

// Session contains per-connection defaults
type Session struct {
	DefaultDistribution string `mapstructure:"default_distribution"`
	QueueSize           int    `mapstructure:"queue_size"`
	Crash               Crash  `mapstructure:"crash"`
}

// Crash configures automatic recovery after a kernel crash.
// MaxRestarts 0 keeps a crashed kernel down until the client restarts it;
// otherwise Window must be set so that old crashes age out.
type Crash struct {
	MaxRestarts int           `mapstructure:"max_restarts"`
	Window      time.Duration `mapstructure:"window"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// Load loads the configuration from path, or from ~/.wayned/config.yaml
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", expanded, err)
		}
	} else {
		configDir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				// Config file was found but another error occurred
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Interpreter.APIKey == "" {
		cfg.Interpreter.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	cfg.Kernel.Binary = expandPath(cfg.Kernel.Binary)
	cfg.Kernel.Dir = expandPath(cfg.Kernel.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if _, err := distribution.Parse(c.Session.DefaultDistribution); err != nil {
		return fmt.Errorf("session.default_distribution: %w", err)
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be positive, got %d", c.Session.QueueSize)
	}
	if c.Session.Crash.MaxRestarts < 0 {
		return fmt.Errorf("session.crash.max_restarts must not be negative, got %d", c.Session.Crash.MaxRestarts)
	}
	if c.Session.Crash.MaxRestarts > 0 && c.Session.Crash.Window <= 0 {
		return fmt.Errorf("session.crash.window must be positive when max_restarts is set, got %s", c.Session.Crash.Window)
	}
	if c.Session.Crash.Multiplier < 1 {
		return fmt.Errorf("session.crash.multiplier must be at least 1, got %g", c.Session.Crash.Multiplier)
	}
	if c.Kernel.Grace <= 0 {
		return fmt.Errorf("kernel.grace must be positive, got %s", c.Kernel.Grace)
	}
	if c.Interpreter.Timeout <= 0 {
		return fmt.Errorf("interpreter.timeout must be positive, got %s", c.Interpreter.Timeout)
	}
	return nil
}

// DefaultDistribution returns the parsed session default. Only valid after
// Validate succeeded.
func (c *Config) DefaultDistribution() distribution.Distribution {
	d, _ := distribution.Parse(c.Session.DefaultDistribution)
	return d
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "30s")

	v.SetDefault("interpreter.provider", "anthropic")
	v.SetDefault("interpreter.api_key", "")
	v.SetDefault("interpreter.model", "claude-3-opus-20240229")
	v.SetDefault("interpreter.max_tokens", 1000)
	v.SetDefault("interpreter.timeout", "30s")

	v.SetDefault("kernel.binary", "python3")
	v.SetDefault("kernel.args", []string{"wayneos-kernel/kernel_bridge.py"})
	v.SetDefault("kernel.dir", "")
	v.SetDefault("kernel.env", []string{})
	v.SetDefault("kernel.grace", "5s")
	v.SetDefault("kernel.settle", "1s")
	v.SetDefault("kernel.kill_timeout", "5s")

	v.SetDefault("session.default_distribution", string(distribution.Base))
	v.SetDefault("session.queue_size", 64)
	v.SetDefault("session.crash.max_restarts", 0)
	v.SetDefault("session.crash.window", "1m")
	v.SetDefault("session.crash.base_delay", "1s")
	v.SetDefault("session.crash.max_delay", "30s")
	v.SetDefault("session.crash.multiplier", 2.0)
}

// expandPath expands a leading ~ and leaves anything else untouched
func expandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// ConfigDir returns the wayned configuration directory path
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wayned"), nil
}

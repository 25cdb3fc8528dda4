package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	appDirName = "castbridge"
	configName = "settings"
	envPrefix  = "CASTBRIDGE"
)

type Config struct {
	Listen            string        `mapstructure:"listen"`
	Device            string        `mapstructure:"device"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	QueueSize         int           `mapstructure:"queue_size"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	CommandsPerSecond float64       `mapstructure:"commands_per_second"`
	Log               LogConfig     `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8765")
	v.SetDefault("device", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("queue_size", 256)
	v.SetDefault("progress_interval", time.Second)
	v.SetDefault("discovery_timeout", 3*time.Second)
	v.SetDefault("connect_timeout", 30*time.Second)
	v.SetDefault("commands_per_second", 5.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// GetAppConfig loads the configuration. path selects a config file; when it
// is empty the settings file in the user config directory is used if it
// exists. CASTBRIDGE_* environment variables override file values.
func GetAppConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := appPath()
		if err != nil {
			return nil, fmt.Errorf("GetAppConfig: failed to access config path due to error: %w", err)
		}
		v.SetConfigName(configName)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("GetAppConfig: failed to read config due to error: %w", err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("GetAppConfig: failed to decode config due to error: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("GetAppConfig: %w", err)
	}

	return conf, nil
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be positive, got %s", c.ProgressInterval)
	}
	if c.CommandsPerSecond <= 0 {
		return fmt.Errorf("commands_per_second must be positive, got %v", c.CommandsPerSecond)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// LogLevel returns the configured zerolog level.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// SaveAppConfig writes a settings file with the default values to the user
// config directory and returns its path. An existing file is kept.
func SaveAppConfig() (string, error) {
	dir, err := appPath()
	if err != nil {
		return "", fmt.Errorf("SaveAppConfig: failed to access config path due to error: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("SaveAppConfig: failed to create default path due to error: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	path := filepath.Join(dir, configName+".yaml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return "", fmt.Errorf("SaveAppConfig: failed to create default config due to error: %w", err)
		}
	}
	return path, nil
}

func appPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("appPath: failed to get config dir due to error: %w", err)
	}

	return filepath.Join(oscfg, appDirName), nil
}

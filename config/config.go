// Package config loads and watches the application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	mu     sync.Mutex
	v      *viper.Viper
)

func init() {
	v = viper.New()
	v.SetEnvPrefix("NCJQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Config represents the application configuration.
type Config struct {
	AppName  string
	RunMode  string
	Host     string
	Port     int
	Logger   *Logger
	Data     *Data
	Queue    *Queue
	Observes *Observes
	Viper    *viper.Viper
}

// GetConfig returns the last loaded configuration.
func GetConfig() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return config, nil
}

// LoadConfig loads the configuration from the given file, or from the
// standard search paths when the path is empty.
func LoadConfig(configPath string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath("/etc/jobqueue")
		v.AddConfigPath("$HOME/.jobqueue")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	path = configPath
	config = buildConfig(v)
	return config, nil
}

func buildConfig(v *viper.Viper) *Config {
	return &Config{
		AppName:  getStringOrDefault(v, "app_name", "jobqueue"),
		RunMode:  v.GetString("run_mode"),
		Host:     getStringOrDefault(v, "server.host", "0.0.0.0"),
		Port:     getIntOrDefault(v, "server.port", 8080),
		Logger:   getLoggerConfig(v),
		Data:     getDataConfig(v),
		Queue:    getQueueConfig(v),
		Observes: getObservesConfig(v),
		Viper:    v,
	}
}

// Reload reloads the configuration from the file.
func Reload() error {
	_, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	return nil
}

// Watch watches the configuration file and invokes the callback on change.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			fmt.Printf("Error reloading config: %v\n", err)
			return
		}
		callback(config)
	})
}

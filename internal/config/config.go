// Package config handles scanstage configuration loading and hot reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// Config holds all scanstage settings.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Upload     UploadConfig     `mapstructure:"upload" yaml:"upload"`
	Split      SplitConfig      `mapstructure:"split" yaml:"split"`
	QR         QRConfig         `mapstructure:"qr" yaml:"qr"`
	Assessment AssessmentConfig `mapstructure:"assessment" yaml:"assessment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// UploadConfig constrains bundle uploads.
type UploadConfig struct {
	// MaxBytes is the largest accepted upload in bytes.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
	// MaxPages is the largest accepted page count per bundle.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// SplitConfig controls page-splitting work.
type SplitConfig struct {
	// Chunks is the number of contiguous chunks a bundle is split into.
	Chunks int `mapstructure:"chunks" yaml:"chunks"`
	// Workers is the worker-pool goroutine count.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// RenderDPI is the pdftoppm render resolution.
	RenderDPI int `mapstructure:"render_dpi" yaml:"render_dpi"`
}

// QRConfig controls QR decoding.
type QRConfig struct {
	// DecoderBin is the external decoder binary (zbarimg).
	DecoderBin string `mapstructure:"decoder_bin" yaml:"decoder_bin"`
	// TimeoutSeconds bounds a single decode invocation.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AssessmentConfig locates the assessment spec document.
type AssessmentConfig struct {
	// SpecPath is the path to the assessment JSON document.
	SpecPath string `mapstructure:"spec_path" yaml:"spec_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8415",
		},
		Upload: UploadConfig{
			MaxBytes: 512 << 20,
			MaxPages: 500,
		},
		Split: SplitConfig{
			Chunks:    4,
			Workers:   0, // 0 = runtime.NumCPU()
			RenderDPI: 200,
		},
		QR: QRConfig{
			DecoderBin:     "zbarimg",
			TimeoutSeconds: 30,
		},
		Assessment: AssessmentConfig{
			SpecPath: "",
		},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("upload", defaults.Upload)
	viper.SetDefault("split", defaults.Split)
	viper.SetDefault("qr", defaults.QR)
	viper.SetDefault("assessment", defaults.Assessment)

	// Environment variables with SCANSTAGE_ prefix
	viper.SetEnvPrefix("SCANSTAGE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.scanstage")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# scanstage configuration
# The assessment spec path must point at a JSON document describing the
# assessment (papers, pages, versions, magic code).

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

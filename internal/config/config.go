package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "segfetch"

// Config holds the configuration options for the application.
type Config struct {
	MaxConcurrentFetches int         `yaml:"maxConcurrentFetches,omitempty"`
	StateFile            string      `yaml:"stateFile,omitempty"`
	Http                 *HttpConfig `yaml:"http,omitempty"`
}

// HttpConfig holds configuration options for segment connections.
type HttpConfig struct {
	DownloadDir    string        `yaml:"dir,omitempty"`
	Connections    int           `yaml:"connections,omitempty"`
	MaxRetries     int           `yaml:"maxRetries,omitempty"`
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
	ReadTimeout    time.Duration `yaml:"readTimeout,omitempty"`
	UserAgent      string        `yaml:"userAgent,omitempty"`
	BufferSize     int           `yaml:"bufferSize,omitempty"`
	MaxIdlePerHost int           `yaml:"maxIdlePerHost,omitempty"`
	MaxIdleTime    time.Duration `yaml:"maxIdleTime,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	httpCfg := zeroOr(cfg.Http, defaults.Http)

	return &Config{
		MaxConcurrentFetches: zeroOr(cfg.MaxConcurrentFetches, defaults.MaxConcurrentFetches),
		StateFile:            zeroOr(cfg.StateFile, defaults.StateFile),
		Http: &HttpConfig{
			DownloadDir:    zeroOr(httpCfg.DownloadDir, defaults.Http.DownloadDir),
			Connections:    zeroOr(httpCfg.Connections, defaults.Http.Connections),
			MaxRetries:     zeroOr(httpCfg.MaxRetries, defaults.Http.MaxRetries),
			ConnectTimeout: zeroOr(httpCfg.ConnectTimeout, defaults.Http.ConnectTimeout),
			ReadTimeout:    zeroOr(httpCfg.ReadTimeout, defaults.Http.ReadTimeout),
			UserAgent:      zeroOr(httpCfg.UserAgent, defaults.Http.UserAgent),
			BufferSize:     zeroOr(httpCfg.BufferSize, defaults.Http.BufferSize),
			MaxIdlePerHost: zeroOr(httpCfg.MaxIdlePerHost, defaults.Http.MaxIdlePerHost),
			MaxIdleTime:    zeroOr(httpCfg.MaxIdleTime, defaults.Http.MaxIdleTime),
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches: maxConcurrentFetches,
		StateFile:            stateFile,
		Http: &HttpConfig{
			DownloadDir:    downloadDir,
			Connections:    httpConnections,
			MaxRetries:     maxRetries,
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
			UserAgent:      userAgent,
			BufferSize:     bufferSize,
			MaxIdlePerHost: maxIdlePerHost,
			MaxIdleTime:    maxIdleTime,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// Package config loads the client configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL        string `yaml:"base_url"`
	DeploymentName string `yaml:"deployment_name"`

	// Endpoint path overrides; empty values use the service defaults.
	UploadPath  string `yaml:"upload_path"`
	IndexPath   string `yaml:"index_path"`
	SessionPath string `yaml:"session_path"`
	StreamPath  string `yaml:"stream_path"`
	ImagePath   string `yaml:"image_path"`
	StopPath    string `yaml:"stop_path"`
	HealthPath  string `yaml:"health_path"`

	HealthTimeout    time.Duration `yaml:"health_timeout"`
	StagingThreshold int           `yaml:"staging_threshold"`

	LogLevel string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080",
		DeploymentName: "gpt-4o",
		HealthTimeout:  5 * time.Second,
		LogLevel:       "info",
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("config base_url is empty")
	}
	return cfg, nil
}

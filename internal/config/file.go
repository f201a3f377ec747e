package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "storygest"
	defaultConfig = ".config"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// CLIConfig is the storyctl configuration file. Flags override it.
type CLIConfig struct {
	UpstreamURL    string        `yaml:"upstream_url"`
	UpstreamAPIKey string        `yaml:"upstream_api_key"`
	Timeout        time.Duration `yaml:"timeout" default:"5m"`
	FlushInterval  time.Duration `yaml:"flush_interval" default:"50ms"`

	Story  StoryDefaults  `yaml:"story"`
	Render RenderSettings `yaml:"render"`
}

// StoryDefaults pre-fill the generation request.
type StoryDefaults struct {
	Minutes       int    `yaml:"minutes" default:"5"`
	Style         string `yaml:"style" default:"Amusant"`
	Universe      string `yaml:"universe" default:"Féerique"`
	FamilyProfile string `yaml:"family_profile"`
}

// RenderSettings control terminal output. Format is "auto", "plain" or "markdown".
type RenderSettings struct {
	Format string `yaml:"format" default:"auto"`
	Width  int    `yaml:"width" default:"100"`
}

type configResult struct {
	config *CLIConfig
	err    error
}

func newDefaultConfig() (*CLIConfig, error) {
	cfg := &CLIConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return cfg, nil
}

// configDir resolves $XDG_CONFIG_HOME/storygest, falling back to ~/.config.
func configDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(home, defaultConfig)
	}
	return filepath.Join(configHome, configDirName), nil
}

func tryLoadConfig(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFile loads the CLI configuration, giving up after ten seconds. A
// missing file yields the defaults.
func LoadFile(ctx context.Context) (*CLIConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := make(chan configResult, 1)
	go func() {
		cfg, err := loadConfigFiles(ctx)
		result <- configResult{config: cfg, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-result:
		return r.config, r.err
	}
}

func loadConfigFiles(ctx context.Context) (*CLIConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before loading config: %w", err)
	}

	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return newDefaultConfig()
	}

	for _, filename := range configFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, err := tryLoadConfig(filepath.Join(dir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return newDefaultConfig()
}

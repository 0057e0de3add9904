package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"vibelink/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir   = ".config/vibelink"
	configFileName  = "config.yaml"
	projectFileName = ".vibelink.yaml"

	// DefaultPort is the local port the gateway binds when nothing overrides it.
	DefaultPort = 8300

	// DefaultTunnelNamePrefix is used when creating a named tunnel for a
	// logged-in operator who has not chosen a name.
	DefaultTunnelNamePrefix = "vibelink"
)

// Config holds the effective configuration for a vibelink invocation.
// Precedence, lowest to highest: defaults, user config file, project config
// file, environment (including .env), command-line flags.
type Config struct {
	// Port is the local port the gateway listens on.
	Port int `yaml:"port"`

	// TunnelName selects a specific named tunnel. Empty means auto.
	TunnelName string `yaml:"tunnelName"`

	// CloudflaredPath overrides binary discovery for the tunnel subprocess.
	CloudflaredPath string `yaml:"cloudflaredPath"`

	// AllowedPaths restricts which filesystem paths the tool server may touch.
	AllowedPaths []string `yaml:"allowedPaths"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:         DefaultPort,
		AllowedPaths: []string{"/"},
	}
}

// Load assembles the configuration for the given working directory.
// Missing files are not errors; a malformed file is.
func Load(workDir string) (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFile(&cfg, filepath.Join(home, userConfigDir, configFileName)); err != nil {
			return Config{}, err
		}
	}
	if err := mergeFile(&cfg, filepath.Join(workDir, projectFileName)); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg, workDir)

	return cfg, nil
}

// mergeFile overlays the yaml file at path onto cfg if it exists.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading config from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error loading config from %s: %w", path, err)
	}
	logging.Info("Config", "Loaded configuration from %s", path)
	return nil
}

// applyEnv overlays VIBELINK_* environment variables, loading a .env file
// from the working directory first if one exists.
func applyEnv(cfg *Config, workDir string) {
	envFile := filepath.Join(workDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logging.Warn("Config", "Could not load %s: %v", envFile, err)
		}
	}

	if v := os.Getenv("VIBELINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		} else {
			logging.Warn("Config", "Ignoring invalid VIBELINK_PORT=%q", v)
		}
	}
	if v := os.Getenv("VIBELINK_TUNNEL_NAME"); v != "" {
		cfg.TunnelName = v
	}
	if v := os.Getenv("VIBELINK_CLOUDFLARED"); v != "" {
		cfg.CloudflaredPath = v
	}
}

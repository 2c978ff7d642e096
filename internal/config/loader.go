package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"harbor-bridge/pkg/logging"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	stateDirName   = ".harbor"
	configFileName = "config.yaml"
)

// osUserHomeDir is a package variable so tests can redirect the home directory.
var osUserHomeDir = os.UserHomeDir

// DefaultStateDir returns ~/.harbor.
func DefaultStateDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, stateDirName), nil
}

// LoadConfig loads config.yaml from dir, applies HARBOR_* environment
// overrides and validates the result. An empty dir means DefaultStateDir.
// A missing config file is not an error.
func LoadConfig(dir string) (BridgeConfig, error) {
	if dir == "" {
		var err error
		dir, err = DefaultStateDir()
		if err != nil {
			return BridgeConfig{}, err
		}
	}

	config := GetDefaultConfig(dir)
	configFilePath := filepath.Join(dir, configFileName)

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return BridgeConfig{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return BridgeConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := env.Parse(&config); err != nil {
		return BridgeConfig{}, fmt.Errorf("parse env: %w", err)
	}

	if config.Storage.Dir == "" {
		config.Storage.Dir = dir
	}

	if err := config.Validate(); err != nil {
		return BridgeConfig{}, err
	}
	return config, nil
}

// TokensPath returns the token store file path.
func (c BridgeConfig) TokensPath() string {
	return filepath.Join(c.Storage.Dir, TokensFileName)
}

// CredentialsPath returns the client credentials file path.
func (c BridgeConfig) CredentialsPath() string {
	return filepath.Join(c.Storage.Dir, CredentialsFileName)
}

// RedirectURI returns the redirect URI registered with providers. It must be
// byte-identical in the authorization URL and in the token exchange.
func (c BridgeConfig) RedirectURI() string {
	return "http://" + c.ListenAddr() + DefaultCallbackPath
}

// ListenAddr returns the host:port the callback listener binds. IPv6 hosts
// are bracketed.
func (c BridgeConfig) ListenAddr() string {
	return net.JoinHostPort(c.Callback.Host, strconv.Itoa(c.Callback.Port))
}

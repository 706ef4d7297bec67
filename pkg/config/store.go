package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/phaseguard/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("config")
	if err != nil {
		debugLog.Warnf("Failed to initialize config logger, using stderr fallback: %v", err)
	}
}

// ErrConfigExists is returned by WriteDefault when a config file is
// already present and overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// Save writes cfg as YAML to path. The file is replaced atomically.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	debugLog.Infof("Wrote config to %s", path)
	return nil
}

// WriteDefault writes the default config into a workspace and returns
// its path.
func WriteDefault(workspaceDir string, overwrite bool) (string, error) {
	path := Path(workspaceDir)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, ErrConfigExists
		}
	}
	return path, Save(DefaultConfig(), path)
}

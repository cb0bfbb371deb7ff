package config

import (
	"os"
	"path/filepath"
)

// KeysDir resolves the project-dirs-style directory that holds the
// validator keys file, honoring XDG_CONFIG_HOME when set.
func KeysDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nodekeeper")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "nodekeeper")
	}
	return filepath.Join(home, ".config", "nodekeeper")
}

// DefaultKeysFile is the default path to the validator keys file.
func DefaultKeysFile() string {
	return filepath.Join(KeysDir(), "validator.keys.json")
}

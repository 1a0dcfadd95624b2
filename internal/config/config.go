package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Global is ~/.chatkit/config.toml.
type Global struct {
	DefaultSession string `toml:"default_session"`
	// LogLevel is a zap level name; empty means info.
	LogLevel string `toml:"log_level,omitempty"`
}

// LoadGlobal reads the global config. A missing file is an error.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if err := decodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGlobal writes the global config, creating parent directories.
func SaveGlobal(path string, g *Global) error {
	return encodeFile(path, g)
}

func decodeFile(path string, v any) error {
	_, err := toml.DecodeFile(path, v)
	return err
}

// encodeFile writes v as TOML with owner-only permissions.
func encodeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

package config

import (
	"os"
	"path/filepath"
)

// DroverPath returns the root directory for drover state (key file, config).
// It uses $DROVER_PATH if set, otherwise defaults to ~/.drover.
func DroverPath() string {
	if v := os.Getenv("DROVER_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".drover")
	}
	return filepath.Join(home, ".drover")
}

// ConfigPath returns the path to the drover config file.
func ConfigPath() string {
	return filepath.Join(DroverPath(), "config.yaml")
}

// DotenvPath returns the path to the drover .env file.
func DotenvPath() string {
	return filepath.Join(DroverPath(), ".env")
}

// WorkingDir returns the workspace sandbox root: $WORKING_DIR if set,
// otherwise the process working directory.
func WorkingDir() string {
	if v := os.Getenv("WORKING_DIR"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

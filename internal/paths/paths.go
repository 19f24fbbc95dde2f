// Package paths resolves where keepsake keeps its configuration and its
// SQLite database.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "keepsake"

// DefaultDataDirName is the working-directory fallback for data.
const DefaultDataDirName = ".keepsake"

// Environment overrides.
const (
	EnvConfigDir = "KEEPSAKE_CONFIG_DIR"
	EnvDataDir   = "KEEPSAKE_DATA_DIR"
)

// platform lookups, replaced in tests.
var (
	homeDir       = os.UserHomeDir
	userConfigDir = os.UserConfigDir
)

// xdgDir returns $<xdgVar>/keepsake on Linux, falling back to
// ~/<fallback>/keepsake, and the OS config directory elsewhere.
func xdgDir(xdgVar string, fallback ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, AppName)...), nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/keepsake (~/.config/keepsake) on
// Linux and the OS config directory elsewhere.
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir is $XDG_DATA_HOME/keepsake (~/.local/share/keepsake) on
// Linux and the OS config directory elsewhere.
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir applies flag > KEEPSAKE_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > config value > KEEPSAKE_DATA_DIR >
// ./.keepsake.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

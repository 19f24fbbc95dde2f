package paths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDirsLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}

	t.Run("XDG variables win", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-config/keepsake", got)

		got, err = DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-data/keepsake", got)
	})

	t.Run("home fallbacks", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")
		orig := homeDir
		homeDir = func() (string, error) { return "/home/tester", nil }
		t.Cleanup(func() { homeDir = orig })

		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/.config/keepsake", got)

		got, err = DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/.local/share/keepsake", got)
	})

	t.Run("home lookup failure", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		orig := homeDir
		homeDir = func() (string, error) { return "", errors.New("no home") }
		t.Cleanup(func() { homeDir = orig })

		_, err := DefaultConfigDir()
		assert.Error(t, err)
	})
}

func TestResolveConfigDir(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "flag wins", flag: "/from/flag", env: "/from/env", want: "/from/flag"},
		{name: "env when no flag", env: "/from/env", want: "/from/env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.env)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("platform default", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		want, err := DefaultConfigDir()
		require.NoError(t, err)
		got, err := ResolveConfigDir("")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestResolveDataDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name   string
		flag   string
		config string
		env    string
		want   string
	}{
		{name: "flag wins", flag: "/f", config: "/c", env: "/e", want: "/f"},
		{name: "config before env", config: "/c", env: "/e", want: "/c"},
		{name: "env", env: "/e", want: "/e"},
		{name: "working directory", want: filepath.Join(cwd, DefaultDataDirName)},
		{name: "relative flag is made absolute", flag: "data", want: filepath.Join(cwd, "data")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.env)
			got, err := ResolveDataDir(tt.flag, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

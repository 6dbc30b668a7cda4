package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	ConfigPathEnv = "SKEIN_CONFIG_PATH"
	HomeEnv       = "SKEIN_HOME"
)

// Paths are the locations skein uses when no config file says otherwise.
type Paths struct {
	ConfigPath string // ~/.config/skein.toml
	BaseDir    string // ~/.local/share/skein
}

// LogDir is where run logs go under BaseDir.
func (p Paths) LogDir() string { return filepath.Join(p.BaseDir, "log") }

// DefaultPaths resolves Paths from the environment, falling back to
// locations under the user's home directory.
func DefaultPaths() (Paths, error) {
	configPath, err := envOrHome(ConfigPathEnv, ".config", "skein.toml")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := envOrHome(HomeEnv, ".local", "share", "skein")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func envOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: cannot determine home directory: %w", env, err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}

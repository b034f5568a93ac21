package config

import (
	"os"
	"path/filepath"
)

// DataDir is the project-local directory holding the database, crash logs
// and the optional config file.
const DataDir = ".planengine"

// ConfigFileName is the file looked up inside DataDir and the global dir.
const ConfigFileName = "config.yaml"

// GetGlobalConfigDir returns the global configuration directory
// (~/.planengine). It's a variable to allow overriding in tests.
var GetGlobalConfigDir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DataDir), nil
}

// ResolveConfigPath picks the config file to load.
// Resolution order (first match wins):
// 1. explicit, when non-empty
// 2. $PLANENGINE_CONFIG
// 3. ./.planengine/config.yaml (if exists)
// 4. ~/.planengine/config.yaml (if exists)
// An empty result means no file; defaults and the environment apply.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envPrefix + "_CONFIG"); env != "" {
		return env
	}

	local := filepath.Join(DataDir, ConfigFileName)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local
	}

	dir, err := GetGlobalConfigDir()
	if err != nil {
		return ""
	}
	global := filepath.Join(dir, ConfigFileName)
	if info, err := os.Stat(global); err == nil && !info.IsDir() {
		return global
	}
	return ""
}

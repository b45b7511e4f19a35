// Package config persists user preferences across runs: color scheme,
// default chip override, and default sampling method. Best-effort: a
// missing or corrupt file falls back to defaults rather than failing
// startup.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the user's persisted preferences.
type Config struct {
	ColorScheme           int     `toml:"color_scheme"`
	DefaultChipOverride   *uint16 `toml:"default_chip_override,omitempty"`
	DefaultSamplingMethod string  `toml:"default_sampling_method"`
}

// Load reads the config file, returning defaults if it is missing or
// cannot be parsed.
func Load() Config {
	path, ok := configPath()
	if !ok {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// Save writes the config file, creating its parent directory as needed.
// Errors are ignored: a failed save should never interrupt playback.
func (c Config) Save() {
	path, ok := configPath()
	if !ok {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	_ = toml.NewEncoder(f).Encode(c)
}

// configPath returns ~/.config/crabsid/config.toml (or the platform
// equivalent via os.UserConfigDir).
func configPath() (string, bool) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(dir, "crabsid", "config.toml"), true
}

// Package config loads bastion's global configuration and the per-entry
// boot configuration records.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the well-known global configuration file
const DefaultPath = "/etc/bastion/config.toml"

// Config holds the bastion configuration
type Config struct {
	BootDir   string `toml:"boot_dir"`   // directory of *.conf boot records
	KeyDir    string `toml:"key_dir"`    // Secure Boot key material
	StubPath  string `toml:"stub"`       // EFI boot stub for unified images
	OSRelease string `toml:"os_release"` // embedded as the .osrel section
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BootDir:   "/etc/bastion/boot.d",
		KeyDir:    "/etc/bastion/keys",
		StubPath:  "/usr/lib/systemd/boot/efi/linuxx64.efi.stub",
		OSRelease: "/etc/os-release",
	}
}

// Load loads configuration from a TOML file
// If path is empty, returns default config
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

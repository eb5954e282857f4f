package treeop

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
)

// Config supplies user defaults for the CLI from an optional ini file.
// Command-line flags override config values; config values override the
// built-in defaults. A missing file yields the built-in defaults.
type Config struct {
	ini *ini.File
}

// ScanConfig holds defaults for scanning.
type ScanConfig struct {
	BufSize uint64 // read buffer size for hashing and readbench
}

// HashConfig holds the content digest selection.
type HashConfig struct {
	Default string // digest algorithm name
}

// ProgressConfig holds progress rendering defaults.
type ProgressConfig struct {
	Width int // maximum progress line width
}

// HardlinkConfig holds defaults for hardlink-copies.
type HardlinkConfig struct {
	MinSize  uint64 // minimum file size considered
	MaxLinks uint64 // refuse to add links beyond this count
}

// DefaultConfigPath returns the conventional config location
// ($XDG_CONFIG_HOME or ~/.config, then treeop/config). Empty when no
// home is known.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "treeop", "config")
}

// LoadConfig loads the config file at path, or the default location when
// path is empty. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	cfg.ini = iniFile
	return cfg, nil
}

// GetScanConfig returns scan defaults.
func (c *Config) GetScanConfig() *ScanConfig {
	scanConfig := &ScanConfig{
		BufSize: DefaultBufSize,
	}
	if c.ini != nil && c.ini.HasSection("scan") {
		section := c.ini.Section("scan")
		if section.HasKey("bufsize") {
			if size, err := ParseSize(section.Key("bufsize").String()); err == nil && size > 0 {
				scanConfig.BufSize = size
			}
		}
	}
	return scanConfig
}

// GetHashConfig returns the digest selection.
func (c *Config) GetHashConfig() *HashConfig {
	hashConfig := &HashConfig{
		Default: DefaultDigestName,
	}
	if c.ini != nil && c.ini.HasSection("filehash") {
		section := c.ini.Section("filehash")
		if section.HasKey("default") {
			if name := section.Key("default").String(); name != "" {
				hashConfig.Default = name
			}
		}
	}
	return hashConfig
}

// GetProgressConfig returns progress rendering defaults.
func (c *Config) GetProgressConfig() *ProgressConfig {
	progressConfig := &ProgressConfig{
		Width: 199,
	}
	if c.ini != nil && c.ini.HasSection("progress") {
		section := c.ini.Section("progress")
		if section.HasKey("width") {
			if width, err := section.Key("width").Int(); err == nil && width > 0 {
				progressConfig.Width = width
			}
		}
	}
	return progressConfig
}

// GetHardlinkConfig returns hardlink-copies defaults.
func (c *Config) GetHardlinkConfig() *HardlinkConfig {
	hardlinkConfig := &HardlinkConfig{
		MinSize:  0,
		MaxLinks: 60000,
	}
	if c.ini != nil && c.ini.HasSection("hardlink") {
		section := c.ini.Section("hardlink")
		if section.HasKey("min_size") {
			if size, err := ParseSize(section.Key("min_size").String()); err == nil {
				hardlinkConfig.MinSize = size
			}
		}
		if section.HasKey("max_links") {
			if links, err := section.Key("max_links").Uint64(); err == nil && links > 0 {
				hardlinkConfig.MaxLinks = links
			}
		}
	}
	return hardlinkConfig
}

// Package config loads the application config, grab-rule list, and
// named keymap layouts from YAML, generalizing the teacher's
// search-path precedence and AvailableLayouts/Save machinery from a
// single Unicode-layout file into the full keyaction.MapAction tree
// format this module's resolver actually consumes. The resolver
// package never imports config: this is purely the front-end that
// cmd/keytap uses to build a tree before handing it to the resolver.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application config (spec.md §6 run modes,
// plus the teacher's layout/log-level fields).
type Config struct {
	Layout    string `yaml:"layout"`
	LogLevel  string `yaml:"log_level"`
	Mode      string `yaml:"mode"`       // "local", "serve", or "connect"
	Addr      string `yaml:"addr"`       // serve/connect network address
	GrabRules string `yaml:"grab_rules"` // path, relative to ConfigDir if not absolute
	ConfigDir string `yaml:"-"`
}

// DefaultConfig returns the configuration used when no config file is
// found on the search path.
func DefaultConfig() *Config {
	return &Config{
		Layout:    "default",
		LogLevel:  "info",
		Mode:      "local",
		GrabRules: "grab.yaml",
	}
}

// Load reads configuration from the first of these files that exists
// (same precedence as the teacher's config.Load): configPath if it is
// non-empty, $SUDO_USER's config dir, $HOME's config dir, the
// executable's directory, then /etc/keytap/config.yaml. A non-empty
// configPath that does not exist falls through to the rest of the list.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	var searchPaths []string
	if configPath != "" {
		searchPaths = append(searchPaths, configPath)
	}
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		searchPaths = append(searchPaths, filepath.Join("/home", sudoUser, ".config", "keytap", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "keytap", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exe), "configs", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/keytap/config.yaml")

	var loadedPath string
	for _, path := range searchPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		loadedPath = path
		break
	}

	switch {
	case loadedPath != "":
		cfg.ConfigDir = filepath.Dir(loadedPath)
	default:
		if exe, err := os.Executable(); err == nil {
			cfg.ConfigDir = filepath.Join(filepath.Dir(exe), "configs")
		} else if home, err := os.UserHomeDir(); err == nil {
			cfg.ConfigDir = filepath.Join(home, ".config", "keytap")
		} else {
			cfg.ConfigDir = "/etc/keytap"
		}
	}

	return cfg, nil
}

// LayoutPath resolves a layout name to its YAML file under ConfigDir.
func (c *Config) LayoutPath(layoutName string) string {
	return filepath.Join(c.ConfigDir, "layouts", layoutName+".yaml")
}

// GrabRulesPath resolves the configured grab-rule file to an absolute
// path, relative to ConfigDir if c.GrabRules is itself relative.
func (c *Config) GrabRulesPath() string {
	if filepath.IsAbs(c.GrabRules) {
		return c.GrabRules
	}
	return filepath.Join(c.ConfigDir, c.GrabRules)
}

// AvailableLayouts lists the layout names discoverable under
// ConfigDir/layouts, stripping the .yaml suffix.
func (c *Config) AvailableLayouts() ([]string, error) {
	layoutDir := filepath.Join(c.ConfigDir, "layouts")
	entries, err := os.ReadDir(layoutDir)
	if err != nil {
		return nil, fmt.Errorf("config: reading layouts directory: %w", err)
	}

	var layouts []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".yaml" {
			name := entry.Name()
			layouts = append(layouts, name[:len(name)-len(".yaml")])
		}
	}
	return layouts, nil
}

// Save writes cfg back to ConfigDir/config.yaml, creating the
// directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("config: creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	path := filepath.Join(c.ConfigDir, "config.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rexroni/keytap/internal/grab"
	"github.com/rexroni/keytap/internal/keyaction"
)

// rawGrabRule is the YAML-facing shape of one grab rule: match Pattern
// against a device's EVIOCGNAME; either Ignore it or attach the named
// Layout (loaded separately and passed to LoadGrabRules).
type rawGrabRule struct {
	Pattern string `yaml:"pattern"`
	Ignore  bool   `yaml:"ignore"`
	Layout  string `yaml:"layout"`
}

// LoadGrabRules reads the ordered grab-rule list at path and compiles
// it against the already-built layout trees in layouts (keyed by
// layout name, as referenced by each rule's Layout field).
func LoadGrabRules(path string, layouts map[string]*keyaction.MapAction) ([]grab.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading grab rules %s: %w", path, err)
	}

	var raw []rawGrabRule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing grab rules %s: %w", path, err)
	}

	rules := make([]grab.RawRule, len(raw))
	for i, r := range raw {
		rules[i] = grab.RawRule{Pattern: r.Pattern, Ignore: r.Ignore, Layout: r.Layout}
	}

	compiled, err := grab.Compile(rules, layouts)
	if err != nil {
		return nil, fmt.Errorf("config: compiling grab rules %s: %w", path, err)
	}
	return compiled, nil
}

// LoadAllLayouts loads every layout name returned by
// Config.AvailableLayouts, keyed by name, so a grab-rule file can
// reference any of them.
func (c *Config) LoadAllLayouts() (map[string]*keyaction.MapAction, error) {
	names, err := c.AvailableLayouts()
	if err != nil {
		return nil, err
	}

	layouts := make(map[string]*keyaction.MapAction, len(names))
	for _, name := range names {
		tree, err := LoadLayout(c.LayoutPath(name))
		if err != nil {
			return nil, fmt.Errorf("config: loading layout %q: %w", name, err)
		}
		layouts[name] = tree
	}
	return layouts, nil
}

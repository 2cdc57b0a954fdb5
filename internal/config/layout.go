package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/keyaction"
)

// rawLayout is the YAML document shape for one named layout: a flat
// map of key-code name to raw action, describing the root layer.
// Nested layers (MAP actions) appear inline as a "layer" field on a
// raw action and are parsed recursively.
type rawLayout struct {
	Name  string               `yaml:"name"`
	Slots map[string]rawAction `yaml:"slots"`
}

// rawAction is the union of every action shape a YAML slot can take:
// a bare scalar key-code name (SIMPLE), or a mapping tagged by exactly
// one of layer/dual/macro.
type rawAction struct {
	simpleCode string
	isScalar   bool

	Layer map[string]rawAction `yaml:"layer"`
	Dual  *rawDual             `yaml:"dual"`
	Macro []rawMacroStep       `yaml:"macro"`
}

type rawDual struct {
	Tap         rawAction `yaml:"tap"`
	Hold        rawAction `yaml:"hold"`
	Mode        string    `yaml:"mode"` // tap_on_rollover, hold_on_rollover, timeout_only
	HoldMs      int64     `yaml:"hold_ms"`
	DoubleTapMs int64     `yaml:"double_tap_ms"`
}

type rawMacroStep struct {
	Code  string `yaml:"code"`
	Press bool   `yaml:"press"`
}

// UnmarshalYAML lets a slot be written either as a bare key-code name
// ("ESC") or as a mapping with a layer/dual/macro tag, without forcing
// every layout author to write out the mapping form for a plain remap.
func (r *rawAction) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.isScalar = true
		return node.Decode(&r.simpleCode)
	}

	type plain rawAction
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("decoding action: %w", err)
	}
	*r = rawAction(p)
	return nil
}

// LoadLayout reads and builds the key-action tree at path, returning a
// tree ready to hand to resolver.New (keyaction.Build has already
// run).
func LoadLayout(path string) (*keyaction.MapAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading layout %s: %w", path, err)
	}

	var rl rawLayout
	if err := yaml.Unmarshal(data, &rl); err != nil {
		return nil, fmt.Errorf("config: parsing layout %s: %w", path, err)
	}

	root := &keyaction.MapAction{}
	if err := fillSlots(root, nil, rl.Slots); err != nil {
		return nil, fmt.Errorf("config: building layout %s: %w", path, err)
	}
	if err := keyaction.Build(root); err != nil {
		return nil, fmt.Errorf("config: layout %s failed validation: %w", path, err)
	}
	return root, nil
}

// fillSlots populates layer's Slots map from a name-keyed raw-action
// map, resolving each key-code name via evcode.NameToKeyCode.
func fillSlots(layer, parent *keyaction.MapAction, slots map[string]rawAction) error {
	layer.Parent = parent
	for name, raw := range slots {
		code, ok := evcode.NameToKeyCode[name]
		if !ok {
			return fmt.Errorf("unknown key code name %q", name)
		}
		action, err := buildAction(layer, raw)
		if err != nil {
			return fmt.Errorf("slot %s: %w", name, err)
		}
		layer.Slots[code] = action
	}
	return nil
}

// buildAction converts one rawAction into a keyaction.Action. parent
// is the enclosing layer, needed so a nested "layer" action gets the
// correct Parent pointer for keyaction.Build's validation.
func buildAction(parent *keyaction.MapAction, raw rawAction) (keyaction.Action, error) {
	switch {
	case raw.isScalar:
		code, ok := evcode.NameToKeyCode[raw.simpleCode]
		if !ok {
			return nil, fmt.Errorf("unknown key code name %q", raw.simpleCode)
		}
		return keyaction.SimpleAction{Code: code}, nil

	case raw.Layer != nil:
		child := &keyaction.MapAction{}
		if err := fillSlots(child, parent, raw.Layer); err != nil {
			return nil, err
		}
		return child, nil

	case raw.Dual != nil:
		return buildDual(parent, raw.Dual)

	case raw.Macro != nil:
		return buildMacro(raw.Macro)

	default:
		return nil, fmt.Errorf("action has no recognized shape (expected a scalar code, or layer/dual/macro)")
	}
}

func buildDual(parent *keyaction.MapAction, raw *rawDual) (keyaction.Action, error) {
	tap, err := buildAction(parent, raw.Tap)
	if err != nil {
		return nil, fmt.Errorf("dual.tap: %w", err)
	}
	hold, err := buildAction(parent, raw.Hold)
	if err != nil {
		return nil, fmt.Errorf("dual.hold: %w", err)
	}

	mode, err := parseDualMode(raw.Mode)
	if err != nil {
		return nil, err
	}

	return keyaction.DualAction{
		Tap:         tap,
		Hold:        hold,
		Mode:        mode,
		HoldMs:      raw.HoldMs,
		DoubleTapMs: raw.DoubleTapMs,
	}, nil
}

func parseDualMode(s string) (keyaction.DualMode, error) {
	switch s {
	case "", "tap_on_rollover":
		return keyaction.TapOnRollover, nil
	case "hold_on_rollover":
		return keyaction.HoldOnRollover, nil
	case "timeout_only":
		return keyaction.TimeoutOnly, nil
	default:
		return 0, fmt.Errorf("unknown dual mode %q", s)
	}
}

func buildMacro(steps []rawMacroStep) (keyaction.Action, error) {
	out := make([]keyaction.MacroStep, 0, len(steps))
	for i, step := range steps {
		code, ok := evcode.NameToKeyCode[step.Code]
		if !ok {
			return nil, fmt.Errorf("macro step %d: unknown key code name %q", i, step.Code)
		}
		out = append(out, keyaction.MacroStep{Code: code, Press: step.Press})
	}
	return keyaction.MacroAction{Steps: out}, nil
}

package keyaction

import "fmt"

// Build fills every unset slot in root and its descendant layers and
// validates the invariants from spec.md §3. It must be called exactly once,
// after the tree's non-NONE slots (SIMPLE/MACRO/DUAL/MAP) have been
// populated by a config front-end, and before the tree is handed to any
// resolver. The tree is immutable after Build returns successfully.
func Build(root *MapAction) error {
	if root == nil {
		return fmt.Errorf("keyaction: nil root")
	}
	if root.Parent != nil {
		return fmt.Errorf("keyaction: root layer must have nil Parent")
	}
	if err := validate(root, make(map[*MapAction]bool)); err != nil {
		return err
	}
	fillLayer(root)
	return nil
}

// fillLayer recursively fills this layer's unset slots, then recurses into
// any MAP slots and any MAP used as a DUAL slot's Hold (which must already
// have their own Parent pointer set to this layer by the builder).
func fillLayer(layer *MapAction) {
	isRoot := layer.Parent == nil
	for code := range layer.Slots {
		switch a := layer.Slots[code].(type) {
		case nil:
			layer.Slots[code] = fillSlot(layer, isRoot, uint16(code))
		case NoneAction:
			if a.Ref == nil {
				layer.Slots[code] = fillSlot(layer, isRoot, uint16(code))
			}
		}
	}
	for code := range layer.Slots {
		switch a := layer.Slots[code].(type) {
		case *MapAction:
			fillLayer(a)
		case DualAction:
			if m, ok := a.Hold.(*MapAction); ok {
				fillLayer(m)
			}
		}
	}
}

func fillSlot(layer *MapAction, isRoot bool, code uint16) Action {
	if isRoot {
		return SimpleAction{Code: code}
	}
	return NoneAction{Ref: &layer.Parent.Slots[code]}
}

// validate walks the tree (before filling) checking the build-time
// invariants: no DUAL-in-DUAL, DUAL.Tap is never a *MapAction, every
// SimpleAction.Code and every MacroStep.Code held directly in a layer slot
// fits in KeyMax, and each MAP child is reached only once (a MAP appearing
// twice, including as its own descendant, is rejected). A DUAL's Tap and
// Hold are checked only for the DUAL-member rules: their codes are not
// range-checked, and a MAP used as Hold is not walked.
func validate(layer *MapAction, seen map[*MapAction]bool) error {
	if seen[layer] {
		return fmt.Errorf("keyaction: cyclic MAP reference detected at build time")
	}
	seen[layer] = true

	for code, a := range layer.Slots {
		switch v := a.(type) {
		case nil:
			// unset; will become NONE or SIMPLE during fill.
		case SimpleAction:
			if v.Code > KeyMax {
				return fmt.Errorf("keyaction: SIMPLE code %d exceeds KeyMax at slot %d", v.Code, code)
			}
		case MacroAction:
			if len(v.Steps) == 0 {
				return fmt.Errorf("keyaction: MACRO at slot %d has no steps", code)
			}
			for _, step := range v.Steps {
				if step.Code > KeyMax {
					return fmt.Errorf("keyaction: MACRO step code %d exceeds KeyMax at slot %d", step.Code, code)
				}
			}
		case DualAction:
			if err := validateDualMember(v.Tap, code, "tap", true); err != nil {
				return err
			}
			if err := validateDualMember(v.Hold, code, "hold", false); err != nil {
				return err
			}
			if v.HoldMs <= 0 {
				return fmt.Errorf("keyaction: DUAL at slot %d has non-positive HoldMs", code)
			}
			if v.DoubleTapMs < -1 {
				return fmt.Errorf("keyaction: DUAL at slot %d has invalid DoubleTapMs %d", code, v.DoubleTapMs)
			}
		case *MapAction:
			if v.Parent != layer {
				return fmt.Errorf("keyaction: MAP at slot %d has mismatched Parent pointer", code)
			}
			if err := validate(v, seen); err != nil {
				return err
			}
		case NoneAction:
			// A caller-supplied NoneAction prior to Build must not carry a
			// Ref yet; Ref is assigned by fillLayer.
			if v.Ref != nil {
				return fmt.Errorf("keyaction: slot %d already has a NONE back-reference before Build", code)
			}
		default:
			return fmt.Errorf("keyaction: unknown action type %T at slot %d", a, code)
		}
	}
	return nil
}

func validateDualMember(a Action, code int, which string, disallowMap bool) error {
	switch a.(type) {
	case DualAction:
		return fmt.Errorf("keyaction: DUAL at slot %d has a DUAL %s, which is forbidden", code, which)
	case *MapAction:
		if disallowMap {
			return fmt.Errorf("keyaction: DUAL at slot %d has a MAP tap, which is forbidden", code)
		}
	case nil:
		return fmt.Errorf("keyaction: DUAL at slot %d is missing its %s action", code, which)
	}
	return nil
}

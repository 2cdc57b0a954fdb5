// Package grab implements the grab predicate: an ordered list of
// (pattern, action) rules that decides which evdev devices the resolver
// owns (spec.md §4.2).
package grab

import (
	"fmt"
	"regexp"
	"regexp/syntax"

	"github.com/rexroni/keytap/internal/keyaction"
)

// Action is the outcome of a matched rule: either GRAB(Tree) or IGNORE.
type Action struct {
	Ignore bool
	Tree   *keyaction.MapAction
}

// Rule pairs a compiled, case-insensitive, POSIX-extended pattern with the
// action to take when a device name matches it.
type Rule struct {
	Pattern *regexp.Regexp
	Action  Action
}

// RawRule is the config-facing shape of a rule, prior to compiling its
// pattern and resolving its layout name to a tree.
type RawRule struct {
	Pattern string
	Ignore  bool
	Layout  string
}

// Compile compiles each raw pattern as a case-insensitive POSIX extended
// regular expression. layouts maps a layout name (RawRule.Layout) to its
// already-built tree; entries with Ignore set need no layout.
func Compile(raw []RawRule, layouts map[string]*keyaction.MapAction) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for i, rr := range raw {
		// POSIX syntax with case folding, then leftmost-longest matching,
		// which is what CompilePOSIX gives minus the case folding it
		// cannot express.
		parsed, err := syntax.Parse(rr.Pattern, syntax.POSIX|syntax.FoldCase)
		if err != nil {
			return nil, fmt.Errorf("grab: rule %d: compiling pattern %q: %w", i, rr.Pattern, err)
		}
		re, err := regexp.Compile(parsed.String())
		if err != nil {
			return nil, fmt.Errorf("grab: rule %d: compiling pattern %q: %w", i, rr.Pattern, err)
		}
		re.Longest()
		action := Action{Ignore: rr.Ignore}
		if !rr.Ignore {
			tree, ok := layouts[rr.Layout]
			if !ok {
				return nil, fmt.Errorf("grab: rule %d: unknown layout %q", i, rr.Layout)
			}
			action.Tree = tree
		}
		rules = append(rules, Rule{Pattern: re, Action: action})
	}
	return rules, nil
}

// Evaluate returns the action of the first rule whose pattern matches name,
// and true. If no rule matches, the device is ignored and Evaluate returns
// false. Pure: no side effects, safe to call concurrently on a shared rule
// slice since neither Rule nor Action is mutated after Compile.
func Evaluate(rules []Rule, name string) (Action, bool) {
	for _, rule := range rules {
		if rule.Pattern.MatchString(name) {
			return rule.Action, true
		}
	}
	return Action{}, false
}

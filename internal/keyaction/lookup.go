package keyaction

import "errors"

// ErrKeymapCycle is returned by Lookup when the NONE back-reference chain
// exceeds maxRefHops — a configuration bug per spec.md §7 (KeymapCycle),
// fatal at the call site.
var ErrKeymapCycle = errors.New("keyaction: NONE back-reference chain exceeded hop bound")

// Lookup returns the terminal action for code in layer, following NONE
// back-references up to maxRefHops times. The tree must already be built.
// The returned Action is never a NoneAction.
func Lookup(layer *MapAction, code uint16) (Action, error) {
	cur := layer.Slots[code]
	for hop := 0; hop < maxRefHops; hop++ {
		none, ok := cur.(NoneAction)
		if !ok {
			return cur, nil
		}
		if none.Ref == nil {
			return nil, errors.New("keyaction: unresolved NONE slot (tree was not Build()-ed)")
		}
		cur = *none.Ref
	}
	return nil, ErrKeymapCycle
}

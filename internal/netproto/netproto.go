// Package netproto implements the stable, textual wire framing used by
// the serve/connect network modes (spec.md §6): one event per line,
// "type:value:code:sec:usec\n".
package netproto

import (
	"fmt"
	"strings"

	"github.com/rexroni/keytap/internal/resolver"
	"github.com/rexroni/keytap/internal/timeutil"
)

// Encode renders ev as one wire line, including the trailing newline.
func Encode(ev resolver.Event) string {
	return fmt.Sprintf("%d:%d:%d:%d:%d\n",
		ev.Type, ev.Value, ev.Code, ev.Time.Sec, ev.Time.Usec)
}

// Decode parses one wire line (with or without its trailing newline) into
// an Event. ok is false for malformed lines, which callers must ignore
// rather than treat as fatal (spec.md §6: "Parsers must accept trailing
// LF and ignore malformed lines").
func Decode(line string) (ev resolver.Event, ok bool) {
	line = strings.TrimRight(line, "\n")
	var typ, value, code uint64
	var sec, usec int64
	n, err := fmt.Sscanf(line, "%d:%d:%d:%d:%d", &typ, &value, &code, &sec, &usec)
	if err != nil || n != 5 {
		return resolver.Event{}, false
	}
	return resolver.Event{
		Type:  uint16(typ),
		Value: int32(value),
		Code:  uint16(code),
		Time:  timeutil.Timestamp{Sec: sec, Usec: usec},
	}, true
}

// Package evcode holds the Linux evdev event-type and key-code constants
// the rest of the system shares, generalizing the teacher's
// internal/mappings/keycodes.go from a single-layout lookup table into the
// full set of types/codes the resolver, input source, and output sink all
// need to agree on.
package evcode

// Event types (linux/input-event-codes.h / linux/input.h).
const (
	EV_SYN uint16 = 0x00
	EV_KEY uint16 = 0x01
	EV_REL uint16 = 0x02
	EV_ABS uint16 = 0x03
	EV_MSC uint16 = 0x04
)

// SYN codes.
const (
	SYN_REPORT uint16 = 0
)

// Key event values.
const (
	ValueRelease int32 = 0
	ValuePress   int32 = 1
	ValueRepeat  int32 = 2
)

// Common key codes from linux/input-event-codes.h.
const (
	KEY_RESERVED   uint16 = 0
	KEY_ESC        uint16 = 1
	KEY_1          uint16 = 2
	KEY_2          uint16 = 3
	KEY_3          uint16 = 4
	KEY_4          uint16 = 5
	KEY_5          uint16 = 6
	KEY_6          uint16 = 7
	KEY_7          uint16 = 8
	KEY_8          uint16 = 9
	KEY_9          uint16 = 10
	KEY_0          uint16 = 11
	KEY_MINUS      uint16 = 12
	KEY_EQUAL      uint16 = 13
	KEY_BACKSPACE  uint16 = 14
	KEY_TAB        uint16 = 15
	KEY_Q          uint16 = 16
	KEY_W          uint16 = 17
	KEY_E          uint16 = 18
	KEY_R          uint16 = 19
	KEY_T          uint16 = 20
	KEY_Y          uint16 = 21
	KEY_U          uint16 = 22
	KEY_I          uint16 = 23
	KEY_O          uint16 = 24
	KEY_P          uint16 = 25
	KEY_LEFTBRACE  uint16 = 26
	KEY_RIGHTBRACE uint16 = 27
	KEY_ENTER      uint16 = 28
	KEY_LEFTCTRL   uint16 = 29
	KEY_A          uint16 = 30
	KEY_S          uint16 = 31
	KEY_D          uint16 = 32
	KEY_F          uint16 = 33
	KEY_G          uint16 = 34
	KEY_H          uint16 = 35
	KEY_J          uint16 = 36
	KEY_K          uint16 = 37
	KEY_L          uint16 = 38
	KEY_SEMICOLON  uint16 = 39
	KEY_APOSTROPHE uint16 = 40
	KEY_GRAVE      uint16 = 41
	KEY_LEFTSHIFT  uint16 = 42
	KEY_BACKSLASH  uint16 = 43
	KEY_Z          uint16 = 44
	KEY_X          uint16 = 45
	KEY_C          uint16 = 46
	KEY_V          uint16 = 47
	KEY_B          uint16 = 48
	KEY_N          uint16 = 49
	KEY_M          uint16 = 50
	KEY_COMMA      uint16 = 51
	KEY_DOT        uint16 = 52
	KEY_SLASH      uint16 = 53
	KEY_RIGHTSHIFT uint16 = 54
	KEY_KPASTERISK uint16 = 55
	KEY_LEFTALT    uint16 = 56
	KEY_SPACE      uint16 = 57
	KEY_CAPSLOCK   uint16 = 58
	KEY_F1         uint16 = 59
	KEY_F2         uint16 = 60
	KEY_F3         uint16 = 61
	KEY_F4         uint16 = 62
	KEY_F5         uint16 = 63
	KEY_F6         uint16 = 64
	KEY_F7         uint16 = 65
	KEY_F8         uint16 = 66
	KEY_F9         uint16 = 67
	KEY_F10        uint16 = 68
	KEY_NUMLOCK    uint16 = 69
	KEY_SCROLLLOCK uint16 = 70
	KEY_F11        uint16 = 87
	KEY_F12        uint16 = 88
	KEY_102ND      uint16 = 86
	KEY_RIGHTCTRL  uint16 = 97
	KEY_RIGHTALT   uint16 = 100
	KEY_HOME       uint16 = 102
	KEY_UP         uint16 = 103
	KEY_PAGEUP     uint16 = 104
	KEY_LEFT       uint16 = 105
	KEY_RIGHT      uint16 = 106
	KEY_END        uint16 = 107
	KEY_DOWN       uint16 = 108
	KEY_PAGEDOWN   uint16 = 109
	KEY_INSERT     uint16 = 110
	KEY_DELETE     uint16 = 111
	KEY_LEFTMETA   uint16 = 125
	KEY_RIGHTMETA  uint16 = 126
)

// IsBareModifier reports whether code is one of the eight bare modifier
// keys that spec.md §4.3.3 forbids from being emitted as an early release.
func IsBareModifier(code uint16) bool {
	switch code {
	case KEY_LEFTALT, KEY_RIGHTALT,
		KEY_LEFTCTRL, KEY_RIGHTCTRL,
		KEY_LEFTMETA, KEY_RIGHTMETA,
		KEY_LEFTSHIFT, KEY_RIGHTSHIFT:
		return true
	}
	return false
}

// KeyCodeToName and NameToKeyCode provide the name table a YAML layout
// file refers keys by, generalizing the teacher's mappings.KeyCodeToName.
var KeyCodeToName = map[uint16]string{
	KEY_ESC: "esc", KEY_1: "1", KEY_2: "2", KEY_3: "3", KEY_4: "4",
	KEY_5: "5", KEY_6: "6", KEY_7: "7", KEY_8: "8", KEY_9: "9", KEY_0: "0",
	KEY_MINUS: "minus", KEY_EQUAL: "equal", KEY_BACKSPACE: "backspace",
	KEY_TAB: "tab", KEY_Q: "q", KEY_W: "w", KEY_E: "e", KEY_R: "r",
	KEY_T: "t", KEY_Y: "y", KEY_U: "u", KEY_I: "i", KEY_O: "o", KEY_P: "p",
	KEY_LEFTBRACE: "leftbrace", KEY_RIGHTBRACE: "rightbrace",
	KEY_ENTER: "enter", KEY_LEFTCTRL: "leftctrl",
	KEY_A: "a", KEY_S: "s", KEY_D: "d", KEY_F: "f", KEY_G: "g", KEY_H: "h",
	KEY_J: "j", KEY_K: "k", KEY_L: "l", KEY_SEMICOLON: "semicolon",
	KEY_APOSTROPHE: "apostrophe", KEY_GRAVE: "grave",
	KEY_LEFTSHIFT: "leftshift", KEY_BACKSLASH: "backslash",
	KEY_Z: "z", KEY_X: "x", KEY_C: "c", KEY_V: "v", KEY_B: "b", KEY_N: "n",
	KEY_M: "m", KEY_COMMA: "comma", KEY_DOT: "dot", KEY_SLASH: "slash",
	KEY_RIGHTSHIFT: "rightshift", KEY_KPASTERISK: "kpasterisk",
	KEY_LEFTALT: "leftalt", KEY_SPACE: "space", KEY_CAPSLOCK: "capslock",
	KEY_F1: "f1", KEY_F2: "f2", KEY_F3: "f3", KEY_F4: "f4", KEY_F5: "f5",
	KEY_F6: "f6", KEY_F7: "f7", KEY_F8: "f8", KEY_F9: "f9", KEY_F10: "f10",
	KEY_F11: "f11", KEY_F12: "f12",
	KEY_NUMLOCK: "numlock", KEY_SCROLLLOCK: "scrolllock", KEY_102ND: "102nd",
	KEY_RIGHTCTRL: "rightctrl", KEY_RIGHTALT: "rightalt",
	KEY_HOME: "home", KEY_UP: "up", KEY_PAGEUP: "pageup", KEY_LEFT: "left",
	KEY_RIGHT: "right", KEY_END: "end", KEY_DOWN: "down",
	KEY_PAGEDOWN: "pagedown", KEY_INSERT: "insert", KEY_DELETE: "delete",
	KEY_LEFTMETA: "leftmeta", KEY_RIGHTMETA: "rightmeta",
}

// NameToKeyCode is the reverse of KeyCodeToName, built once at init.
var NameToKeyCode map[string]uint16

func init() {
	NameToKeyCode = make(map[string]uint16, len(KeyCodeToName))
	for code, name := range KeyCodeToName {
		NameToKeyCode[name] = code
	}
}

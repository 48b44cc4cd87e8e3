package hotkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Modifier is a bit set of held modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModControl
	ModAlt
	ModSuper
	ModHyper
	ModMeta
)

var modifierNames = []struct {
	mod  Modifier
	name string
}{
	{ModControl, "Control"},
	{ModAlt, "Alt"},
	{ModShift, "Shift"},
	{ModSuper, "Super"},
	{ModHyper, "Hyper"},
	{ModMeta, "Meta"},
}

var modifierAliases = map[string]Modifier{
	"control": ModControl,
	"ctrl":    ModControl,
	"alt":     ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"hyper":   ModHyper,
	"meta":    ModMeta,
}

// namedKeys maps lower-cased key names to their canonical spelling.
var namedKeys = map[string]string{
	"return":    "Return",
	"enter":     "Return",
	"escape":    "Escape",
	"esc":       "Escape",
	"space":     "space",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"insert":    "Insert",
	"home":      "Home",
	"end":       "End",
	"page_up":   "Page_Up",
	"prior":     "Page_Up",
	"page_down": "Page_Down",
	"next":      "Page_Down",
	"left":      "Left",
	"up":        "Up",
	"right":     "Right",
	"down":      "Down",
	"print":     "Print",
	"pause":     "Pause",
	"menu":      "Menu",

	"caps_lock":   "Caps_Lock",
	"num_lock":    "Num_Lock",
	"scroll_lock": "Scroll_Lock",
	"sys_req":     "Sys_Req",
	"break":       "Break",

	"kp_enter":    "KP_Enter",
	"kp_add":      "KP_Add",
	"kp_subtract": "KP_Subtract",
	"kp_multiply": "KP_Multiply",
	"kp_divide":   "KP_Divide",
	"kp_decimal":  "KP_Decimal",
	"kp_0":        "KP_0",
	"kp_1":        "KP_1",
	"kp_2":        "KP_2",
	"kp_3":        "KP_3",
	"kp_4":        "KP_4",
	"kp_5":        "KP_5",
	"kp_6":        "KP_6",
	"kp_7":        "KP_7",
	"kp_8":        "KP_8",
	"kp_9":        "KP_9",
}

// punctuationKeys maps keysym names of printable symbols to the character
// itself, so "Control+grave" and "Control+`" are the same key.
var punctuationKeys = map[string]string{
	"grave":        "`",
	"asciitilde":   "~",
	"exclam":       "!",
	"at":           "@",
	"numbersign":   "#",
	"dollar":       "$",
	"percent":      "%",
	"asciicircum":  "^",
	"ampersand":    "&",
	"asterisk":     "*",
	"parenleft":    "(",
	"parenright":   ")",
	"minus":        "-",
	"underscore":   "_",
	"equal":        "=",
	"plus":         "+",
	"bracketleft":  "[",
	"bracketright": "]",
	"braceleft":    "{",
	"braceright":   "}",
	"backslash":    "\\",
	"bar":          "|",
	"semicolon":    ";",
	"colon":        ":",
	"apostrophe":   "'",
	"quotedbl":     "\"",
	"comma":        ",",
	"less":         "<",
	"period":       ".",
	"greater":      ">",
	"slash":        "/",
	"question":     "?",
}

// ErrInvalidKey is wrapped by every ParseKey failure.
var ErrInvalidKey = errors.New("invalid key")

// Key is a normalized key combination such as Control+Alt+v.
type Key struct {
	Sym       string
	Modifiers Modifier
}

// ParseKey parses a descriptor of modifier names joined by '+' followed by
// exactly one key name. A key name is a single printable character, F1
// through F35, a navigation or editing key such as Return or Page_Up, a lock
// key, a KP_ keypad key, or the X11 keysym name of a punctuation character
// (grave, minus, bracketleft and so on), which is the same key as the
// character itself.
func ParseKey(descriptor string) (Key, error) {
	s := strings.TrimSpace(descriptor)
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty descriptor", ErrInvalidKey)
	}

	var parts []string
	// A trailing "+" names the plus key itself, as in "Control++".
	if strings.HasSuffix(s, "++") {
		parts = append(strings.Split(strings.TrimSuffix(s, "++"), "+"), "+")
	} else if s == "+" {
		parts = []string{"+"}
	} else {
		parts = strings.Split(s, "+")
	}

	var key Key
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Key{}, fmt.Errorf("%w: empty token in %q", ErrInvalidKey, descriptor)
		}
		last := i == len(parts)-1
		if !last {
			mod, ok := modifierAliases[strings.ToLower(part)]
			if !ok {
				return Key{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidKey, part)
			}
			key.Modifiers |= mod
			continue
		}
		sym, ok := canonicalSym(part)
		if !ok {
			return Key{}, fmt.Errorf("%w: unknown key name %q", ErrInvalidKey, part)
		}
		key.Sym = sym
	}
	return key, nil
}

// MustParseKey is ParseKey for compile-time constants.
func MustParseKey(descriptor string) Key {
	k, err := ParseKey(descriptor)
	if err != nil {
		panic(err)
	}
	return k
}

func canonicalSym(name string) (string, bool) {
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if r < 0x20 || r == 0x7f {
			return "", false
		}
		return strings.ToLower(name), true
	}
	lower := strings.ToLower(name)
	if sym, ok := namedKeys[lower]; ok {
		return sym, true
	}
	if sym, ok := punctuationKeys[lower]; ok {
		return sym, true
	}
	if strings.HasPrefix(lower, "f") {
		n, err := strconv.Atoi(lower[1:])
		if err == nil && n >= 1 && n <= 35 && lower[1] != '0' {
			return "F" + strconv.Itoa(n), true
		}
	}
	return "", false
}

// Check reports whether k and other name the same combination.
func (k Key) Check(other Key) bool {
	return k.Sym == other.Sym && k.Modifiers == other.Modifiers
}

// CheckList reports whether k matches any entry of keys.
func (k Key) CheckList(keys []Key) bool {
	for _, candidate := range keys {
		if k.Check(candidate) {
			return true
		}
	}
	return false
}

func (k Key) String() string {
	var b strings.Builder
	for _, m := range modifierNames {
		if k.Modifiers&m.mod != 0 {
			b.WriteString(m.name)
			b.WriteByte('+')
		}
	}
	b.WriteString(k.Sym)
	return b.String()
}

// KeyListString renders keys the way they are written in hotkeys.conf.
func KeyListString(keys []Key) string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return strings.Join(names, " ")
}

// Package hotkey loads the keyboard shortcuts that drive the recognition daemon.
package hotkey

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-ime/internal/command"
)

const configRelPath = "loqa-ime/hotkeys.conf"

// DefaultToggleKeys is the table used when no usable hotkeys.conf exists.
func DefaultToggleKeys() []Key {
	return []Key{
		MustParseKey("Control+Alt+v"),
		MustParseKey("Control+Alt+r"),
		MustParseKey("F8"),
		MustParseKey("Shift+F8"),
	}
}

// DefaultCommandModeKey is checked before the toggle list, so it wins even
// though the default toggle list also contains it.
var DefaultCommandModeKey = MustParseKey("Shift+F8")

// Table maps key presses to daemon commands. It is immutable once built.
type Table struct {
	commandMode Key
	toggle      []Key
}

// NewTable builds a table from an explicit toggle list.
func NewTable(commandMode Key, toggle []Key) Table {
	return Table{commandMode: commandMode, toggle: append([]Key(nil), toggle...)}
}

// Lookup returns the command bound to k, if any.
func (t Table) Lookup(k Key) (command.Command, bool) {
	if k.Check(t.commandMode) {
		return command.CommandMode, true
	}
	if k.CheckList(t.toggle) {
		return command.Toggle, true
	}
	return "", false
}

func (t Table) ToggleKeys() []Key { return append([]Key(nil), t.toggle...) }

func (t Table) CommandModeKey() Key { return t.commandMode }

// ConfigPath resolves hotkeys.conf from XDG_CONFIG_HOME, falling back to
// HOME/.config. It returns "" when neither is set.
func ConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configRelPath)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", configRelPath)
	}
	return ""
}

// LoadToggleKeys reads toggle shortcuts from path. It never returns an empty
// list: a missing path, an unreadable file or a file without a single valid
// descriptor all yield DefaultToggleKeys.
func LoadToggleKeys(path string, log *slog.Logger) []Key {
	if path == "" {
		log.Debug("no hotkeys config path, using defaults")
		return DefaultToggleKeys()
	}
	f, err := os.Open(path)
	if err != nil {
		log.Debug("hotkeys config unavailable, using defaults", slog.String("path", path), slog.String("error", err.Error()))
		return DefaultToggleKeys()
	}
	defer f.Close()

	// Lines have no length limit.
	var keys []Key
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" && !strings.HasPrefix(line, "#") {
			if k, perr := ParseKey(line); perr != nil {
				log.Debug("skipping hotkey", slog.String("line", line), slog.String("error", perr.Error()))
			} else {
				keys = append(keys, k)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("reading hotkeys config", slog.String("path", path), slog.String("error", err.Error()))
			}
			break
		}
	}
	if len(keys) == 0 {
		return DefaultToggleKeys()
	}
	return keys
}

// Load builds the table from the configured command-mode descriptor and the
// hotkeys file. override replaces ConfigPath when non-empty.
func Load(override, commandMode string, log *slog.Logger) Table {
	path := override
	if path == "" {
		path = ConfigPath()
	}
	mode, err := ParseKey(commandMode)
	if err != nil {
		log.Warn("invalid command mode key, using default",
			slog.String("key", commandMode), slog.String("error", err.Error()))
		mode = DefaultCommandModeKey
	}
	return NewTable(mode, LoadToggleKeys(path, log))
}

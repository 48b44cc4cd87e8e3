package hotkey

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-ime/internal/command"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotkeys.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sameKeys(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Check(b[i]) {
			return false
		}
	}
	return true
}

func TestLoadToggleKeysSkipsMalformed(t *testing.T) {
	path := writeConf(t, `# dictation shortcuts
Control+Alt+d

Bogus+x
  F9
Control+Nope
Super+space
`)
	keys := LoadToggleKeys(path, newLogger())
	want := []Key{MustParseKey("Control+Alt+d"), MustParseKey("F9"), MustParseKey("Super+space")}
	if !sameKeys(keys, want) {
		t.Fatalf("got %s, want %s", KeyListString(keys), KeyListString(want))
	}
}

func TestLoadToggleKeysSurvivesOverlongLine(t *testing.T) {
	long := "# " + strings.Repeat("x", 70000)
	path := writeConf(t, long+"\nF9\n"+strings.Repeat("y", 100000)+"\nControl+Alt+q")
	keys := LoadToggleKeys(path, newLogger())
	want := []Key{MustParseKey("F9"), MustParseKey("Control+Alt+q")}
	if !sameKeys(keys, want) {
		t.Fatalf("expected %s, got %s", KeyListString(want), KeyListString(keys))
	}
}

func TestLoadToggleKeysFallsBackWhenNoneValid(t *testing.T) {
	path := writeConf(t, "# only comments\n\nNope+x\n")
	keys := LoadToggleKeys(path, newLogger())
	if !sameKeys(keys, DefaultToggleKeys()) {
		t.Fatalf("expected defaults, got %s", KeyListString(keys))
	}
}

func TestLoadToggleKeysWithoutPath(t *testing.T) {
	keys := LoadToggleKeys("", newLogger())
	if !sameKeys(keys, DefaultToggleKeys()) {
		t.Fatalf("expected defaults, got %s", KeyListString(keys))
	}
}

func TestLoadToggleKeysMissingFile(t *testing.T) {
	keys := LoadToggleKeys(filepath.Join(t.TempDir(), "absent.conf"), newLogger())
	if !sameKeys(keys, DefaultToggleKeys()) {
		t.Fatalf("expected defaults, got %s", KeyListString(keys))
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("HOME", "/home/u")
	if got := ConfigPath(); got != "/xdg/loqa-ime/hotkeys.conf" {
		t.Fatalf("unexpected xdg path %q", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	if got := ConfigPath(); got != "/home/u/.config/loqa-ime/hotkeys.conf" {
		t.Fatalf("unexpected home path %q", got)
	}

	t.Setenv("HOME", "")
	if got := ConfigPath(); got != "" {
		t.Fatalf("expected no path, got %q", got)
	}
}

func TestLoadWithoutResolvablePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	table := Load("", "Shift+F8", newLogger())
	if !sameKeys(table.ToggleKeys(), DefaultToggleKeys()) {
		t.Fatalf("expected defaults, got %s", KeyListString(table.ToggleKeys()))
	}
}

func TestLoadFromXDG(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "loqa-ime"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "loqa-ime", "hotkeys.conf"), []byte("F10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", dir)

	table := Load("", "Shift+F8", newLogger())
	if !sameKeys(table.ToggleKeys(), []Key{MustParseKey("F10")}) {
		t.Fatalf("unexpected toggle keys %s", KeyListString(table.ToggleKeys()))
	}
}

func TestLookup(t *testing.T) {
	table := NewTable(DefaultCommandModeKey, DefaultToggleKeys())

	cmd, ok := table.Lookup(MustParseKey("Shift+F8"))
	if !ok || cmd != command.CommandMode {
		t.Fatalf("expected command mode for Shift+F8, got %q %v", cmd, ok)
	}
	cmd, ok = table.Lookup(MustParseKey("Control+Alt+v"))
	if !ok || cmd != command.Toggle {
		t.Fatalf("expected toggle for Control+Alt+v, got %q %v", cmd, ok)
	}
	if _, ok := table.Lookup(MustParseKey("a")); ok {
		t.Fatal("expected no binding for a")
	}
}

func TestLoadInvalidCommandModeFallsBack(t *testing.T) {
	table := Load(writeConf(t, "F8\n"), "Nope+x", newLogger())
	if !table.CommandModeKey().Check(DefaultCommandModeKey) {
		t.Fatalf("expected default command mode key, got %v", table.CommandModeKey())
	}
}

package protocol

import "time"

// FocusEvent announces that an input context gained, lost or reset focus.
type FocusEvent struct {
	Context string `json:"context"`
}

// KeyEvent is a key press or release inside an input context. Key uses the
// hotkeys.conf descriptor grammar, e.g. "Control+Alt+v".
type KeyEvent struct {
	Context string `json:"context"`
	Key     string `json:"key"`
	Release bool   `json:"release,omitempty"`
}

// KeyReply answers a KeyEvent request. Accepted keys must not reach the text field.
type KeyReply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Commit carries recognized text for one input context.
type Commit struct {
	Context   string    `json:"context"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectFocusIn  = "focus.in"
	SubjectFocusOut = "focus.out"
	SubjectReset    = "reset"
	SubjectKey      = "key"
	SubjectCommit   = "commit"
)

// Subject joins the configured prefix and a suffix.
func Subject(prefix, suffix string) string {
	return prefix + "." + suffix
}

// Package command writes control tokens to the recognition daemon's command channel.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-ime/internal/fifo"
	"golang.org/x/sys/unix"
)

// Command is a single-line token understood by the daemon.
type Command string

const (
	Toggle         Command = "toggle"
	CommandMode    Command = "command"
	Start          Command = "start"
	Stop           Command = "stop"
	SwitchLanguage Command = "switch_language"
	Quit           Command = "quit"
)

var known = map[Command]struct{}{
	Toggle:         {},
	CommandMode:    {},
	Start:          {},
	Stop:           {},
	SwitchLanguage: {},
	Quit:           {},
}

// Parse validates a token typed by a user.
func Parse(token string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(token)))
	if _, ok := known[c]; !ok {
		return "", fmt.Errorf("unknown command %q", token)
	}
	return c, nil
}

// Wire returns the bytes written to the channel.
func (c Command) Wire() []byte { return []byte(string(c) + "\n") }

// ErrShortWrite is returned when the channel accepted only part of a token.
var ErrShortWrite = errors.New("short write")

// Sender opens the command channel for each send and never holds a writer
// open between sends.
type Sender struct {
	path string
	log  *slog.Logger
}

func NewSender(path string, log *slog.Logger) *Sender {
	return &Sender{path: path, log: log.With(slog.String("component", "command-sender"))}
}

// TrySend makes exactly one attempt to deliver c.
func (s *Sender) TrySend(c Command) error {
	fd, err := fifo.OpenWriter(s.path)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	payload := c.Wire()
	n, err := unix.Write(fd, payload)
	if err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	if n != len(payload) {
		return fmt.Errorf("write %s: %w (%d of %d bytes)", c, ErrShortWrite, n, len(payload))
	}
	return nil
}

// Send delivers c and reports whether it went through. Failures are logged
// and never retried; a missing daemon must not stall key handling.
func (s *Sender) Send(c Command) bool {
	err := s.TrySend(c)
	switch {
	case err == nil:
		s.log.Debug("command sent", slog.String("command", string(c)))
		return true
	case errors.Is(err, fifo.ErrNoReader):
		s.log.Warn("daemon command channel not ready", slog.String("command", string(c)), slog.String("path", s.path))
	default:
		s.log.Warn("write command failed", slog.String("command", string(c)), slogError(err))
	}
	return false
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

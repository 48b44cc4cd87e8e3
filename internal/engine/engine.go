// Package engine routes shortcut presses to the recognition daemon and commits
// the text it sends back into whichever target currently has focus.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-ime/internal/command"
	"github.com/loqalabs/loqa-ime/internal/config"
	"github.com/loqalabs/loqa-ime/internal/eventloop"
	"github.com/loqalabs/loqa-ime/internal/fifo"
	"github.com/loqalabs/loqa-ime/internal/hotkey"
	"github.com/loqalabs/loqa-ime/internal/linebuf"
	"golang.org/x/sys/unix"
)

const (
	readChunk = 4096
	// Caps one drain cycle; a still-readable fd is picked up on the next poll.
	maxReadsPerCycle = 64
)

// Target is an opaque handle to a focused text field. Targets are compared by
// identity, so implementations must be comparable (pointer types are).
type Target interface {
	CommitString(text string)
}

// Sender delivers a command to the daemon, reporting whether it went out.
type Sender interface {
	Send(c command.Command) bool
}

// Scheduler is the event loop the commit channel is registered with.
type Scheduler interface {
	AddIO(fd int, flags eventloop.IOFlags, handler eventloop.IOHandler) (*eventloop.IOSource, error)
}

// Observer is told about every commit, drop and command. Calls happen on the
// dispatching goroutine and must not block.
type Observer interface {
	Committed(text string)
	Dropped(text string)
	CommandSent(c command.Command, delivered bool)
}

type Option func(*Engine)

func WithSender(s Sender) Option { return func(e *Engine) { e.sender = s } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

type Engine struct {
	table    hotkey.Table
	sender   Sender
	observer Observer
	log      *slog.Logger
	metrics  *metrics

	mu     sync.Mutex
	target Target

	// pending is touched only from onReadable.
	pending linebuf.Reassembler
	read    func(fd int, p []byte) (int, error)

	fd        int
	src       *eventloop.IOSource
	closeOnce sync.Once
	closeErr  error
}

// New provisions both channels, opens the commit channel and registers it with
// loop. Any failure here leaves nothing open behind.
func New(cfg config.ChannelsConfig, table hotkey.Table, loop Scheduler, log *slog.Logger, opts ...Option) (*Engine, error) {
	if err := fifo.Ensure(cfg.CommandPath); err != nil {
		return nil, fmt.Errorf("provision command channel: %w", err)
	}
	if err := fifo.Ensure(cfg.CommitPath); err != nil {
		return nil, fmt.Errorf("provision commit channel: %w", err)
	}

	e := &Engine{
		table: table,
		log:   log.With(slog.String("component", "engine")),
		read:  unix.Read,
		fd:    -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sender == nil {
		e.sender = command.NewSender(cfg.CommandPath, log)
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	e.metrics = newMetrics(e.log)

	fd, err := fifo.OpenReader(cfg.CommitPath)
	if err != nil {
		return nil, fmt.Errorf("open commit channel: %w", err)
	}
	e.fd = fd

	src, err := loop.AddIO(fd, eventloop.IOIn|eventloop.IOErr|eventloop.IOHup, e.onReadable)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("register commit channel: %w", err)
	}
	e.src = src

	e.log.Info("engine loaded",
		slog.String("hotkeys", hotkey.KeyListString(table.ToggleKeys())),
		slog.String("command_mode", table.CommandModeKey().String()),
		slog.String("commit_path", cfg.CommitPath),
		slog.String("command_path", cfg.CommandPath))
	return e, nil
}

// Close unregisters the commit channel, closes its descriptor and discards
// any partial line. It is safe to call more than once. The event loop must
// not be dispatching to the engine while Close runs.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.src != nil {
			e.src.Close()
		}
		if e.fd >= 0 {
			e.closeErr = unix.Close(e.fd)
		}
		e.pending.Reset()
	})
	return e.closeErr
}

// FocusIn makes t the active target.
func (e *Engine) FocusIn(t Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = t
}

// FocusOut clears the active target, but only if t is the active target.
func (e *Engine) FocusOut(t Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.target == t {
		e.target = nil
	}
}

// Reset has nothing to discard: text is committed whole, never pre-edited.
func (e *Engine) Reset(Target) {}

// Active returns the current target or nil.
func (e *Engine) Active() Target {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// KeyEvent handles a key from t and reports whether the key was consumed.
// A press also confirms t as the active target.
func (e *Engine) KeyEvent(t Target, k hotkey.Key, release bool) bool {
	if release {
		return false
	}

	e.mu.Lock()
	e.target = t
	e.mu.Unlock()

	cmd, ok := e.table.Lookup(k)
	if !ok {
		return false
	}
	delivered := e.sender.Send(cmd)
	e.metrics.command(cmd, delivered)
	e.observer.CommandSent(cmd, delivered)
	return true
}

func (e *Engine) onReadable(fd int, _ eventloop.IOFlags) bool {
	var buf [readChunk]byte
drain:
	for i := 0; i < maxReadsPerCycle; i++ {
		n, err := e.read(fd, buf[:])
		switch {
		case err == nil && n > 0:
			e.pending.Write(buf[:n])
		case err == nil:
			break drain
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			break drain
		default:
			e.log.Warn("read commit channel failed", slogError(err))
			e.metrics.readError()
			break drain
		}
	}

	for _, line := range e.pending.Lines() {
		e.commit(line)
	}
	return true
}

func (e *Engine) commit(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	t := e.target
	e.mu.Unlock()

	if t == nil {
		e.log.Debug("no active target, dropping line", slog.Int("bytes", len(text)))
		e.metrics.dropped()
		e.observer.Dropped(text)
		return
	}
	t.CommitString(text)
	e.metrics.committed()
	e.observer.Committed(text)
}

type nopObserver struct{}

func (nopObserver) Committed(string)                  {}
func (nopObserver) Dropped(string)                    {}
func (nopObserver) CommandSent(command.Command, bool) {}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

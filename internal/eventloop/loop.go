// Package eventloop dispatches file-descriptor readiness to callbacks from a
// single goroutine using poll(2).
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// IOFlags describes the readiness conditions a source is interested in or
// that poll reported for it.
type IOFlags uint8

const (
	IOIn IOFlags = 1 << iota
	IOOut
	IOErr
	IOHup
)

// IOHandler runs on the loop goroutine. Returning false removes the source.
type IOHandler func(fd int, flags IOFlags) bool

// IOSource is a registered descriptor. Close it to stop dispatch.
type IOSource struct {
	loop    *Loop
	fd      int
	flags   IOFlags
	handler IOHandler
}

// Close unregisters the source. It does not close the descriptor.
func (s *IOSource) Close() {
	if s == nil {
		return
	}
	s.loop.remove(s)
}

// ErrClosed is returned by AddIO and Run once the loop has been closed.
var ErrClosed = errors.New("event loop closed")

type Loop struct {
	log     *slog.Logger
	mu      sync.Mutex
	sources []*IOSource
	wakeR   int
	wakeW   int
	closed  bool
	running bool
}

func New(log *slog.Logger) (*Loop, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}
	return &Loop{
		log:   log.With(slog.String("component", "event-loop")),
		wakeR: p[0],
		wakeW: p[1],
	}, nil
}

// AddIO registers handler for fd. IOErr and IOHup are always reported.
func (l *Loop) AddIO(fd int, flags IOFlags, handler IOHandler) (*IOSource, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	if handler == nil {
		return nil, errors.New("nil io handler")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	src := &IOSource{loop: l, fd: fd, flags: flags, handler: handler}
	l.sources = append(l.sources, src)
	l.mu.Unlock()
	l.wake()
	return src, nil
}

func (l *Loop) remove(src *IOSource) {
	l.mu.Lock()
	for i, s := range l.sources {
		if s == src {
			l.sources = append(l.sources[:i], l.sources[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) registered(src *IOSource) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sources {
		if s == src {
			return true
		}
	}
	return false
}

// Len reports the number of registered sources.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}

func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	// A full pipe already guarantees a pending wakeup.
	_, _ = unix.Write(l.wakeW, []byte{0})
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Run dispatches readiness until ctx is cancelled. Only one Run may be active.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.running {
		l.mu.Unlock()
		return errors.New("event loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, l.wake)
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.mu.Lock()
		sources := append([]*IOSource(nil), l.sources...)
		l.mu.Unlock()

		fds := make([]unix.PollFd, 0, len(sources)+1)
		fds = append(fds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
		for _, s := range sources {
			fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: pollEvents(s.flags)})
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents != 0 {
			l.drainWake()
		}
		for i, s := range sources {
			revents := fds[i+1].Revents
			if revents == 0 {
				continue
			}
			// An earlier handler in this round may have removed it.
			if !l.registered(s) {
				continue
			}
			if revents&unix.POLLNVAL != 0 {
				l.log.Warn("removing invalid descriptor", slog.Int("fd", s.fd))
				l.remove(s)
				continue
			}
			if keep := s.handler(s.fd, ioFlags(revents)); !keep {
				l.remove(s)
			}
		}
	}
}

// Close releases the wake pipe once Run has returned. Registered descriptors
// are left open.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.running {
		return errors.New("event loop still running")
	}
	l.closed = true
	l.sources = nil
	return errors.Join(unix.Close(l.wakeR), unix.Close(l.wakeW))
}

func pollEvents(flags IOFlags) int16 {
	var ev int16
	if flags&IOIn != 0 {
		ev |= unix.POLLIN
	}
	if flags&IOOut != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func ioFlags(revents int16) IOFlags {
	var f IOFlags
	if revents&unix.POLLIN != 0 {
		f |= IOIn
	}
	if revents&unix.POLLOUT != 0 {
		f |= IOOut
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		f |= IOErr
	}
	if revents&unix.POLLHUP != 0 {
		f |= IOHup
	}
	return f
}

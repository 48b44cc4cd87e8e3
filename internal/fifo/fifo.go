// Package fifo provisions and opens the named pipes shared with the recognition daemon.
package fifo

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mode is the permission every channel is created with.
const Mode = 0o600

// Ensure makes sure a FIFO exists at path. An existing FIFO is left alone; any
// other filesystem entry at that path, including a symlink, is removed and
// replaced.
func Ensure(path string) error {
	info, err := os.Lstat(path)
	switch {
	case err == nil:
		if info.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove non-fifo %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := unix.Mkfifo(path, Mode); err != nil {
		// Another process created it between our stat and mkfifo.
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenReader opens path for non-blocking reads. The descriptor is opened
// read-write so the channel never reports end-of-file while no daemon holds
// the write side.
func OpenReader(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s for reading: %w", path, err)
	}
	return fd, nil
}

// ErrNoReader is returned by OpenWriter when nothing has the channel open for reading.
var ErrNoReader = errors.New("fifo has no reader")

// OpenWriter opens path for a non-blocking write.
func OpenWriter(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return -1, fmt.Errorf("open %s: %w", path, ErrNoReader)
		}
		return -1, fmt.Errorf("open %s for writing: %w", path, err)
	}
	return fd, nil
}

// IsFIFO reports whether path itself is a FIFO. Symlinks are not followed.
func IsFIFO(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeNamedPipe != 0
}

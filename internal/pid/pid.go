// Package pid guards against two daemons driving the same outputs.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/cemctl/internal/errors"
)

const DefaultName = "cemctl.pid"

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns the PID file name inside dir, or inside the system temp
// directory when dir is empty.
func New(dir, name string) *File {
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = DefaultName
	}

	return &File{path: filepath.Join(dir, name)}
}

func (f *File) Path() string {
	return f.path
}

// Write records the current process ID. It fails with ErrAlreadyRunning if
// the file names a live process; a stale or unreadable file is replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if running, pid := f.owner(); running {
		return errFactory.WithData(errors.ErrAlreadyRunning, struct {
			Path string
			PID  int
		}{
			Path: f.path,
			PID:  pid,
		})
	}

	err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// owner reports whether the file holds the PID of a live process other than
// this one.
func (f *File) owner() (bool, int) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false, pid
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid
	}

	return process.Signal(syscall.Signal(0)) == nil, pid
}

// Remove deletes the PID file if it exists.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

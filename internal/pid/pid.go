// Package pid guards against a second controller instance driving the same
// outputs and lets the CLI find the running daemon.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/vawtctl/internal/errors"
)

const (
	pidFile = "vawtctl.pid"
)

// Path returns the location of the PID file.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the PID file. It fails if the file
// names a process that is still alive.
func Write() error {
	errFactory := errors.New()

	if pid, err := Read(); err == nil {
		if alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	} else if !errors.HasCode(err, errors.ErrNotRunning) {
		return err
	}

	if err := os.WriteFile(Path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Read returns the process ID stored in the PID file.
func Read() (int, error) {
	errFactory := errors.New()

	bytes, err := os.ReadFile(Path())
	if os.IsNotExist(err) {
		return 0, errFactory.New(errors.ErrNotRunning)
	}
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	return pid, nil
}

// Signal delivers sig to the running instance.
func Signal(sig syscall.Signal) error {
	errFactory := errors.New()

	pid, err := Read()
	if err != nil {
		return err
	}
	if !alive(pid) {
		return errFactory.WithData(errors.ErrNotRunning, pid)
	}

	if err := syscall.Kill(pid, sig); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove() error {
	errFactory := errors.New()

	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

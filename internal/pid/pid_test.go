package pid_test

import (
	"os"
	"strconv"
	"syscall"
	"testing"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	_, err := pid.Read()
	assert.True(t, errors.HasCode(err, errors.ErrNotRunning))

	require.NoError(t, pid.Write())

	got, err := pid.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)

	// This process is alive, so a second instance is refused.
	err = pid.Write()
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))

	require.NoError(t, pid.Remove())
	require.NoError(t, pid.Remove())

	err = pid.Signal(syscall.SIGUSR1)
	assert.True(t, errors.HasCode(err, errors.ErrNotRunning))
}

func TestStalePIDFileIsReplaced(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	// PIDs are bounded well below this on Linux.
	require.NoError(t, os.WriteFile(pid.Path(), []byte(strconv.Itoa(1<<30)), 0o600))

	require.NoError(t, pid.Write())
	got, err := pid.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got)
}

func TestCorruptPIDFile(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, os.WriteFile(pid.Path(), []byte("not-a-pid"), 0o600))

	err := pid.Write()
	assert.True(t, errors.HasCode(err, errors.ErrInternal))
}

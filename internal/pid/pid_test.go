package pid_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	f := pid.New(t.TempDir(), "")
	assert.Equal(t, pid.DefaultName, filepath.Base(f.Path()))

	require.NoError(t, f.Write())
	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// rewriting our own PID is allowed
	require.NoError(t, f.Write())

	require.NoError(t, f.Remove())
	_, err = os.Stat(f.Path())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, f.Remove())
}

func TestWriteRejectsLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Skip("sleep not available:", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	f := pid.New(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(f.Path(), []byte(strconv.Itoa(cmd.Process.Pid)), 0o600))

	err := f.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	for _, content := range []string{"garbage", "-5", ""} {
		f := pid.New(t.TempDir(), "test.pid")
		require.NoError(t, os.WriteFile(f.Path(), []byte(content), 0o600))

		require.NoError(t, f.Write(), "content %q", content)
		data, err := os.ReadFile(f.Path())
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
	}
}

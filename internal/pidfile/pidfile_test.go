package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voipd.pid")

	release, err := Acquire(path)
	require.NoError(t, err)
	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestAcquireReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voipd.pid")

	release, err := Acquire(path)
	require.NoError(t, err)
	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireRejectsStaleButAlivePID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voipd.pid")
	// Our own PID is always "alive", standing in for a running prior
	// instance without needing to fork a second process.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := Acquire(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

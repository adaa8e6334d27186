package main

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHelpExitsZero(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--help"}))
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	assert.Equal(t, -1, run([]string{"--nope"}))
}

func TestRunExitsMinusOneOnPidConflict(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "voipd.pid")
	// Our own PID is always alive, standing in for a running prior
	// instance without forking a second process.
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	assert.Equal(t, -1, run([]string{"--pidfile", pidPath, "--port", "0"}))
}

func TestRunShutsDownCleanlyOnSignal(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "voipd.pid")

	done := make(chan int, 1)
	go func() { done <- run([]string{"--pidfile", pidPath, "--port", "0", "--listen", "127.0.0.1"}) }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit after SIGINT")
	}
}

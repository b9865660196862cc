package daemon

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is above the kernel's pid_max, so no process can own it.
const deadPID = 99999999

func TestPIDFile_WritePIDCreatesStateDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nested", "cloudvoice-backend.pid")
	pf := NewPIDFile(path)

	require.NoError(t, pf.WritePID(4242))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(data))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestPIDFile_ReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewPIDFile(filepath.Join(dir, "missing.pid")).Read()
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("backend\n"), 0o644))
	_, err = NewPIDFile(bad).Read()
	assert.ErrorContains(t, err, "invalid PID file content")
}

func TestPIDFile_IsRunning(t *testing.T) {
	dir := t.TempDir()

	self := NewPIDFile(filepath.Join(dir, "self.pid"))
	require.NoError(t, self.Write())
	pid, running := self.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	gone := NewPIDFile(filepath.Join(dir, "gone.pid"))
	require.NoError(t, gone.WritePID(deadPID))
	pid, running = gone.IsRunning()
	assert.False(t, running)
	assert.Equal(t, deadPID, pid, "PID is reported even when the process is gone")

	pid, running = NewPIDFile(filepath.Join(dir, "none.pid")).IsRunning()
	assert.False(t, running)
	assert.Zero(t, pid)
}

func TestPIDFile_Clear(t *testing.T) {
	dir := t.TempDir()

	stale := NewPIDFile(filepath.Join(dir, "stale.pid"))
	require.NoError(t, stale.WritePID(deadPID))
	assert.True(t, stale.Clear())
	_, err := os.Stat(stale.Path)
	assert.True(t, os.IsNotExist(err))

	live := NewPIDFile(filepath.Join(dir, "live.pid"))
	require.NoError(t, live.Write())
	assert.False(t, live.Clear(), "a live process keeps its PID file")
	_, err = os.Stat(live.Path)
	assert.NoError(t, err)

	assert.False(t, NewPIDFile(filepath.Join(dir, "none.pid")).Clear())
}

func TestPIDFile_Remove(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "cloudvoice-backend.pid"))
	require.NoError(t, pf.WritePID(1))

	require.NoError(t, pf.Remove())
	assert.Error(t, pf.Remove(), "second remove has nothing to delete")
}

func TestPIDFile_Signal(t *testing.T) {
	dir := t.TempDir()

	pf := NewPIDFile(filepath.Join(dir, "self.pid"))
	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Signal(syscall.Signal(0)))

	err := NewPIDFile(filepath.Join(dir, "none.pid")).Signal(syscall.Signal(0))
	assert.ErrorContains(t, err, "read PID file")
}

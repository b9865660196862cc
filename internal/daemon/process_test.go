//go:build !windows

package daemon

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_Paths(t *testing.T) {
	dir := t.TempDir()
	p := NewProcess(dir, "cloudvoice-backend")

	assert.Equal(t, dir+"/cloudvoice-backend.pid", p.PIDFile().Path)
	assert.Equal(t, dir+"/cloudvoice-backend.log", p.LogPath())
}

func TestProcess_StatusClearsStalePIDFile(t *testing.T) {
	p := NewProcess(t.TempDir(), "svc")
	require.NoError(t, p.PIDFile().WritePID(99999999))

	pid, running := p.Status()
	assert.Equal(t, 99999999, pid)
	assert.False(t, running)

	_, err := os.Stat(p.PIDFile().Path)
	assert.True(t, os.IsNotExist(err), "stale PID file should be removed")
}

func TestProcess_StopNotRunning(t *testing.T) {
	p := NewProcess(t.TempDir(), "svc")
	err := p.Stop(context.Background(), syscall.SIGTERM, syscall.SIGKILL)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestProcess_StartAlreadyRunning(t *testing.T) {
	p := NewProcess(t.TempDir(), "svc")
	require.NoError(t, p.PIDFile().Write())

	_, err := p.Start(exec.Command("true"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestProcess_StartAndStop(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := NewProcess(t.TempDir(), "svc")

	pid, err := p.Start(exec.Command("sh", "-c", "echo started; exec sleep 30"))
	require.NoError(t, err)
	assert.Positive(t, pid)

	gotPID, running := p.Status()
	assert.True(t, running)
	assert.Equal(t, pid, gotPID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx, syscall.SIGTERM, syscall.SIGKILL))

	_, running = p.Status()
	assert.False(t, running)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(p.LogPath())
		return err == nil && string(data) == "started\n"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := NewProcess(t.TempDir(), "svc")

	pid, err := p.Start(exec.Command("sh", "-c", "trap '' TERM; while :; do sleep 0.1; done"))
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Stop(ctx, syscall.SIGTERM, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestPIDFile_SignalExitedProcess(t *testing.T) {
	pf := NewPIDFile(t.TempDir() + "/gone.pid")
	require.NoError(t, pf.WritePID(99999999))

	assert.ErrorIs(t, pf.Signal(syscall.SIGTERM), os.ErrProcessDone)
}

// Package daemon tracks a detached background process through a PID file
// and an append-only log file in a state directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
)

// Process manages one named background process.
type Process struct {
	Name string
	pid  *PIDFile
	log  string
}

// NewProcess returns a manager for name, keeping <name>.pid and <name>.log in dir.
func NewProcess(dir, name string) *Process {
	return &Process{
		Name: name,
		pid:  NewPIDFile(filepath.Join(dir, name+".pid")),
		log:  filepath.Join(dir, name+".log"),
	}
}

// PIDFile returns the process's PID file.
func (p *Process) PIDFile() *PIDFile { return p.pid }

// LogPath returns the file receiving the process's stdout and stderr.
func (p *Process) LogPath() string { return p.log }

// Status reports the recorded PID and whether it is alive. A stale PID file
// is removed.
func (p *Process) Status() (int, bool) {
	pid, running := p.pid.IsRunning()
	if !running {
		p.pid.Clear()
	}
	return pid, running
}

// Start launches cmd detached, redirecting its output to the log file, and
// records its PID.
func (p *Process) Start(cmd *exec.Cmd) (int, error) {
	if pid, running := p.Status(); running {
		return pid, fmt.Errorf("%s %w (PID %d)", p.Name, ErrAlreadyRunning, pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.log), 0o755); err != nil {
		return 0, fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(p.log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", p.Name, err)
	}
	pid := cmd.Process.Pid

	if err := p.pid.WritePID(pid); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("write PID file: %w", err)
	}
	// Reap the child if it exits while we are still alive.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// Stop sends term, waits for the process to exit, and escalates to kill
// when ctx is done first. The PID file is removed once the process is gone.
func (p *Process) Stop(ctx context.Context, term, kill syscall.Signal) error {
	pid, running := p.Status()
	if !running {
		return fmt.Errorf("%s %w", p.Name, ErrNotRunning)
	}

	if err := p.pid.Signal(term); errors.Is(err, os.ErrProcessDone) {
		_ = p.pid.Remove()
		return nil
	} else if err != nil {
		return fmt.Errorf("signal %s (PID %d): %w", p.Name, pid, err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, alive := p.pid.IsRunning(); !alive {
				_ = p.pid.Remove()
				return nil
			}
		case <-ctx.Done():
			if err := p.pid.Signal(kill); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("kill %s (PID %d): %w", p.Name, pid, err)
			}
			_ = p.pid.Remove()
			return nil
		}
	}
}

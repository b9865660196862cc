//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// IsRunning reports whether the recorded process is alive. FindProcess
// opens a handle, which fails once the process is gone.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	_ = proc.Release()
	return pid, true
}

// Signal delivers sig to the recorded process. Only kill is supported on
// Windows; signal 0 only checks that the process exists.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	defer proc.Release()
	if sig == 0 {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill PID %d: %w", pid, err)
	}
	return nil
}

//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// detachAttrs starts the background backend in its own session so it
// survives the terminal that launched it.
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// interruptSignals end a foreground backend or MCP server.
func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// stopSignals are sent by 'backend stop': term first, kill after the grace period.
func stopSignals() (term, kill syscall.Signal) {
	return syscall.SIGTERM, syscall.SIGKILL
}

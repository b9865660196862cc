//go:build windows

package cmd

import (
	"os"
	"syscall"
)

// detachAttrs gives the background backend its own process group so console
// Ctrl+C events do not reach it.
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func interruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// stopSignals: Windows processes can only be killed, so both steps kill.
func stopSignals() (term, kill syscall.Signal) {
	return syscall.SIGKILL, syscall.SIGKILL
}

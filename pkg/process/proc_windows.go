//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
)

const stillActive = 259

// configureProcAttr starts the service in a new process group so console
// interrupts sent to modctl do not reach it.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// signalGroup terminates pid. Windows has no graceful signal for detached
// processes, so every sig ends the process immediately.
func signalGroup(pid int, _ syscall.Signal) error {
	h, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE|syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		if !processAlive(pid) {
			return nil
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer syscall.CloseHandle(h)

	if err := syscall.TerminateProcess(h, 1); err != nil && processAlive(pid) {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	return nil
}

// processAlive reports whether pid has not exited yet.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(h)

	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

//go:build windows

package ptycore

import "os"

// Windows has no POSIX signal ladder. Every escalation step collapses to a
// hard kill, matching the teacher's own Windows stub (terminal/session_windows.go)
// which no-ops the Unix-only SIGWINCH path rather than emulating it.
var escalationSignals = []os.Signal{
	os.Kill,
	os.Kill,
	os.Kill,
	os.Kill,
	os.Kill,
}

func signalProcess(proc *os.Process, sig os.Signal) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

// Package ptycore implements the PTY session object: one child process,
// its controlling PTY master file descriptor, the clients attached to it,
// and a small replay buffer of recent output. It is a byte pipe — it does
// not parse terminal escape sequences and does not persist across restarts.
package ptycore

import (
	"errors"
	"os"
)

// Sentinel errors surfaced by Session operations.
var (
	// ErrSpawnFailed wraps a fork/exec failure. Never retried by the caller.
	ErrSpawnFailed = errors.New("ptycore: spawn failed")
	// ErrWriteFailed wraps a write to the PTY master that could not be
	// completed, including a zero-byte accepted write.
	ErrWriteFailed = errors.New("ptycore: write failed")
	// ErrClosed is returned by operations attempted after the session has
	// been torn down (EOF reaped or explicitly killed).
	ErrClosed = errors.New("ptycore: session closed")
)

// Opener starts a child process behind a PTY master. It exists so tests can
// substitute a pipe instead of forking a real shell.
type Opener interface {
	Open(shell []string, env []string, cwd string) (*os.File, *os.Process, error)
}

// Winsizer applies a window size to a PTY master fd.
type Winsizer interface {
	Setsize(f *os.File, rows, cols int) error
}

// PTYService bundles Opener and Winsizer, the two creack/pty operations a
// Session depends on.
type PTYService interface {
	Opener
	Winsizer
}

// SpawnOptions configures a new child process.
type SpawnOptions struct {
	Command []string   // argv; Command[0] is the shell/binary
	Env     []string   // full environment to exec with
	Dir     string     // working directory; falls back to $HOME on error
	Service PTYService // nil uses the default creack/pty-backed service
}

func fallbackHome(dir string) string {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

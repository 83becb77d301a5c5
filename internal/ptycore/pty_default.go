package ptycore

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// DefaultService implements PTYService using github.com/creack/pty,
// the same library the teacher wires for every shell it spawns.
type DefaultService struct{}

// Open forks command[0] with command[1:] as arguments, connected to a
// freshly allocated PTY slave, and returns the non-blocking master fd.
func (DefaultService) Open(command []string, env []string, dir string) (*os.File, *os.Process, error) {
	if len(command) == 0 {
		return nil, nil, ErrSpawnFailed
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = env
	cmd.Dir = fallbackHome(dir)

	master, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, err
	}
	return master, cmd.Process, nil
}

// Setsize applies a window size to the PTY master.
func (DefaultService) Setsize(f *os.File, rows, cols int) error {
	return pty.Setsize(f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

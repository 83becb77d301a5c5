package manager

import "errors"

// Sentinel errors surfaced from GetTerminal and friends. Matches the
// terminal package's errors.New style rather than a custom error-code type.
var (
	ErrSpawnFailed      = errors.New("manager: spawn failed")
	ErrCapacityExceeded = errors.New("manager: capacity exceeded")
	ErrNoSuchTerminal   = errors.New("manager: no such terminal")
	ErrNotAllowed       = errors.New("manager: not allowed")
)

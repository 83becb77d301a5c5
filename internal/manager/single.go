package manager

import (
	"sync"

	"github.com/iwanhae/terminalcore/internal/ptycore"
)

// SingleManager shares one session across every acquisition ("Single"
// policy, spec §4.3). Grounded on terminado's SingleTermManager.
type SingleManager struct {
	base

	mu      sync.Mutex
	current *ptycore.Session
}

func NewSingleManager(opts Options) *SingleManager {
	m := &SingleManager{base: newBase(opts)}
	m.hooks = m
	return m
}

// GetTerminal lazily spawns the shared session on first acquisition and
// returns it on every subsequent call.
func (m *SingleManager) GetTerminal(_ string) (*ptycore.Session, error) {
	m.mu.Lock()
	if m.current != nil {
		sess := m.current
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.newTerminal(NewTerminalOptions{})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.current != nil {
		// Lost a race to spawn the shared terminal: keep the winner, tear
		// down the spare so we don't leak a child process.
		winner := m.current
		m.mu.Unlock()
		_ = sess.Close()
		return winner, nil
	}
	m.current = sess
	m.mu.Unlock()

	m.startReading(sess)
	return sess, nil
}

// ClientDisconnected is a no-op: the shared terminal outlives any one client.
func (m *SingleManager) ClientDisconnected(*ptycore.Session, ptycore.Client) {}

func (m *SingleManager) Shutdown() { m.shutdown() }

// Sessions returns the shared session, if spawned, as a single-element
// slice, for an optional consumer like internal/reaper.
func (m *SingleManager) Sessions() []*ptycore.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return []*ptycore.Session{m.current}
}

func (m *SingleManager) removeSession(sess *ptycore.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == sess {
		m.current = nil
	}
}

// killAll clears the shared reference so the next acquisition re-spawns,
// matching SingleTermManager.kill_all.
func (m *SingleManager) killAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

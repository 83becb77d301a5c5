package manager

import (
	"sync"

	"github.com/iwanhae/terminalcore/internal/ptycore"
)

// UniqueManager gives every acquisition its own session ("Unique" policy,
// spec §4.3). Grounded on terminado's UniqueTermManager; the `all` slice
// plays the role of its (otherwise unnamed) bookkeeping.
type UniqueManager struct {
	base

	mu           sync.Mutex
	all          []*ptycore.Session
	pending      int // in-flight spawns reserved against maxTerminals
	maxTerminals int
}

// NewUniqueManager builds a Unique-policy manager. maxTerminals of zero
// means no cap.
func NewUniqueManager(opts Options, maxTerminals int) *UniqueManager {
	m := &UniqueManager{base: newBase(opts), maxTerminals: maxTerminals}
	m.hooks = m
	return m
}

// GetTerminal always spawns a new session and records it, failing with
// ErrCapacityExceeded once maxTerminals would be exceeded. The cap check
// and the reservation of a slot against it happen atomically under m.mu
// (the pending counter), so two concurrent callers can't both pass the
// check and spawn past the cap; spawning itself still happens outside the
// lock since it can block.
func (m *UniqueManager) GetTerminal(_ string) (*ptycore.Session, error) {
	m.mu.Lock()
	if m.maxTerminals > 0 && len(m.all)+m.pending >= m.maxTerminals {
		m.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	m.pending++
	m.mu.Unlock()

	sess, err := m.newTerminal(NewTerminalOptions{})

	m.mu.Lock()
	m.pending--
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.all = append(m.all, sess)
	m.mu.Unlock()

	m.startReading(sess)
	return sess, nil
}

// ClientDisconnected sends HUP to the session the client was attached to;
// the resulting EOF drives cleanup through the base path. Scope is
// one-shot per client, so disconnect always tears the session down.
func (m *UniqueManager) ClientDisconnected(sess *ptycore.Session, _ ptycore.Client) {
	_ = sess.Kill(ptycore.HangupSignal())
}

func (m *UniqueManager) Shutdown() { m.shutdown() }

// Sessions returns a snapshot of every session this manager currently
// tracks, for an optional consumer like internal/reaper.
func (m *UniqueManager) Sessions() []*ptycore.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ptycore.Session, len(m.all))
	copy(out, m.all)
	return out
}

func (m *UniqueManager) removeSession(sess *ptycore.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.all {
		if s == sess {
			m.all = append(m.all[:i], m.all[i+1:]...)
			return
		}
	}
}

func (m *UniqueManager) killAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = nil
}

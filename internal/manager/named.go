package manager

import (
	"fmt"
	"sync"

	"github.com/iwanhae/terminalcore/internal/ptycore"
)

// NamedManager keys sessions by name, shared between every websocket
// connected to the same key ("Named" policy, spec §4.3). Grounded on
// terminado's NamedTermManager, including its lowest-available-integer
// auto-naming.
type NamedManager struct {
	base

	mu           sync.Mutex
	byName       map[string]*ptycore.Session
	reserved     map[string]struct{} // names claimed by an in-flight spawn, not yet in byName
	maxTerminals int
	nameTemplate string
}

// NewNamedManager builds a Named-policy manager. maxTerminals of zero means
// no cap; nameTemplate defaults to "%d" like terminado's name_template.
func NewNamedManager(opts Options, maxTerminals int, nameTemplate string) *NamedManager {
	if nameTemplate == "" {
		nameTemplate = "%d"
	}
	m := &NamedManager{
		base:         newBase(opts),
		byName:       make(map[string]*ptycore.Session),
		reserved:     make(map[string]struct{}),
		maxTerminals: maxTerminals,
		nameTemplate: nameTemplate,
	}
	m.hooks = m
	return m
}

// GetTerminal requires a non-empty name. It returns the existing session
// under that name, or spawns and records a new one, failing with
// ErrCapacityExceeded if the cap is already at maxTerminals. The cap check
// and the reservation of name against it happen atomically under m.mu (the
// reserved set), so two concurrent callers can't both pass the check and
// spawn past the cap; spawning itself still happens outside the lock since
// it can block.
func (m *NamedManager) GetTerminal(name string) (*ptycore.Session, error) {
	if name == "" {
		return nil, ErrNotAllowed
	}

	m.mu.Lock()
	if sess, ok := m.byName[name]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	if _, alreadyReserved := m.reserved[name]; !alreadyReserved {
		if m.maxTerminals > 0 && len(m.byName)+len(m.reserved) >= m.maxTerminals {
			m.mu.Unlock()
			return nil, ErrCapacityExceeded
		}
		m.reserved[name] = struct{}{}
	}
	m.mu.Unlock()

	sess, err := m.newTerminal(NewTerminalOptions{})

	m.mu.Lock()
	delete(m.reserved, name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if existing, ok := m.byName[name]; ok {
		// Lost a race to spawn this name: a concurrent caller that was
		// also racing us reserved it a moment after we unlocked above (or
		// finished first). Keep the winner and tear down the spare so we
		// don't leak a child process, the same reconciliation
		// SingleManager uses for its one shared session.
		m.mu.Unlock()
		_ = sess.Close()
		return existing, nil
	}
	sess.SetName(name)
	m.byName[name] = sess
	m.mu.Unlock()

	m.startReading(sess)
	return sess, nil
}

// NewNamedTerminal allocates the lowest positive integer n such that
// nameTemplate applied to n is not already taken, spawns a session under
// that name, and returns both. Allocation is monotonic only within one
// process; nothing is persisted across restarts. The name is reserved
// before the lock is released for spawning, so a second concurrent call
// can't pick the same integer.
func (m *NamedManager) NewNamedTerminal() (string, *ptycore.Session, error) {
	m.mu.Lock()
	if m.maxTerminals > 0 && len(m.byName)+len(m.reserved) >= m.maxTerminals {
		m.mu.Unlock()
		return "", nil, ErrCapacityExceeded
	}
	name := m.nextAvailableNameLocked()
	m.reserved[name] = struct{}{}
	m.mu.Unlock()

	sess, err := m.newTerminal(NewTerminalOptions{})

	m.mu.Lock()
	delete(m.reserved, name)
	if err != nil {
		m.mu.Unlock()
		return "", nil, err
	}
	sess.SetName(name)
	m.byName[name] = sess
	m.mu.Unlock()

	m.startReading(sess)
	return name, sess, nil
}

// nextAvailableNameLocked must be called with m.mu held. It skips both
// names already spawned and names an in-flight spawn has reserved.
func (m *NamedManager) nextAvailableNameLocked() string {
	for n := 1; ; n++ {
		name := fmt.Sprintf(m.nameTemplate, n)
		if _, taken := m.byName[name]; taken {
			continue
		}
		if _, taken := m.reserved[name]; taken {
			continue
		}
		return name
	}
}

// Kill looks a named session up and terminates it; the resulting EOF drives
// cleanup through the base path, matching NamedTermManager.kill.
func (m *NamedManager) Kill(name string) error {
	m.mu.Lock()
	sess, ok := m.byName[name]
	m.mu.Unlock()
	if !ok {
		return ErrNoSuchTerminal
	}
	return sess.Kill(ptycore.HangupSignal())
}

// ClientDisconnected is a no-op: named terminals outlive their clients.
func (m *NamedManager) ClientDisconnected(*ptycore.Session, ptycore.Client) {}

func (m *NamedManager) Shutdown() { m.shutdown() }

// Sessions returns a snapshot of every named session this manager
// currently tracks, for an optional consumer like internal/reaper.
func (m *NamedManager) Sessions() []*ptycore.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ptycore.Session, 0, len(m.byName))
	for _, sess := range m.byName {
		out = append(out, sess)
	}
	return out
}

func (m *NamedManager) removeSession(sess *ptycore.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byName, sess.Name())
}

func (m *NamedManager) killAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName = make(map[string]*ptycore.Session)
}

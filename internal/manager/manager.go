// Package manager implements the three terminal-sharing policies on top of
// ptycore.Session: Unique (one session per acquisition), Single (one shared
// session for every acquisition), and Named (one session per key). Grounded
// on terminal/manager.go's SessionManager for the Go shape (map + mutex, not
// a single-threaded reactor) and on the policy split in terminado's
// management.py (TermManagerBase / SingleTermManager / UniqueTermManager /
// NamedTermManager).
package manager

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/iwanhae/terminalcore/internal/ptycore"
)

// EnvPrefix is the compile-time variable prefix injected into every spawned
// child's environment, renamed from terminado's historical PYXTERM_.
const EnvPrefix = "TERMCORE_"

const (
	defaultTermType = "xterm"
	defaultRows     = 24
	defaultCols     = 80
)

// TerminalManager is the contract a ClientSession talks to: acquire a
// session for a URL key, report a disconnect, and tear everything down.
type TerminalManager interface {
	GetTerminal(urlKey string) (*ptycore.Session, error)
	ClientDisconnected(sess *ptycore.Session, client ptycore.Client)
	Shutdown()
}

// Options configures the environment and shell every policy spawns. Env
// and Cwd are spec §3's "base environment overrides" and "optional working
// directory" on TerminalManager's configuration, applied to every terminal
// this manager spawns.
type Options struct {
	ShellCommand []string
	Env          []string // extra/overriding entries appended after the ambient environment
	Cwd          string   // working directory for every spawned child; empty falls back to $HOME
	TermType     string
	ServerURL    string
	// InitialRows/InitialCols seed COLUMNS/LINES/<PREFIX>DIMENSIONS before
	// any client has reported a real viewport over set_size. Zero means
	// the package defaults (24x80).
	InitialRows, InitialCols int
	Service                  ptycore.PTYService // nil uses the default creack/pty-backed service
}

// NewTerminalOptions carries the per-acquisition viewport used to build the
// child's environment; a reactor-managed terminal usually has no viewport
// yet at spawn time; zero values are valid and simply omit DIMENSIONS extras.
type NewTerminalOptions struct {
	Rows, Cols       int
	WinRows, WinCols int
	Cwd              string
}

// policyHooks lets base call back into the policy-specific state (by_name,
// current, all) without base knowing which policy it belongs to: Go's
// answer to terminado's subclass override of on_eof/kill_all.
type policyHooks interface {
	removeSession(sess *ptycore.Session)
	killAll()
}

// base is embedded by each policy type. It owns the reactor-equivalent
// read-pump goroutines, the fd table, and new_terminal/on_eof/shutdown,
// exactly the operations spec §4.2 puts in the base contract.
type base struct {
	mu           sync.Mutex
	opts         Options
	sessionsByFD map[uintptr]*ptycore.Session
	hooks        policyHooks
}

func newBase(opts Options) base {
	return base{
		opts:         opts,
		sessionsByFD: make(map[uintptr]*ptycore.Session),
	}
}

// makeTermEnv builds the child environment: the ambient environment, this
// manager's configured Env overrides, then TERM, COLUMNS, LINES,
// <PREFIX>DIMENSIONS and, when configured, <PREFIX>URL. Later entries win
// on duplicate keys under the usual os/exec/env convention, so Options.Env
// can override an ambient variable.
func (b *base) makeTermEnv(o NewTerminalOptions) []string {
	env := os.Environ()
	env = append(env, b.opts.Env...)

	termType := b.opts.TermType
	if termType == "" {
		termType = defaultTermType
	}
	env = append(env, "TERM="+termType)

	width, height := o.Cols, o.Rows
	if width == 0 {
		width = b.initialCols()
	}
	if height == 0 {
		height = b.initialRows()
	}
	dimensions := fmt.Sprintf("%dx%d", width, height)
	if o.WinCols != 0 && o.WinRows != 0 {
		dimensions += fmt.Sprintf(";%dx%d", o.WinCols, o.WinRows)
	}
	env = append(env,
		fmt.Sprintf("COLUMNS=%d", width),
		fmt.Sprintf("LINES=%d", height),
		EnvPrefix+"DIMENSIONS="+dimensions,
	)

	if b.opts.ServerURL != "" {
		env = append(env, EnvPrefix+"URL="+b.opts.ServerURL)
	}
	return env
}

func (b *base) initialRows() int {
	if b.opts.InitialRows > 0 {
		return b.opts.InitialRows
	}
	return defaultRows
}

func (b *base) initialCols() int {
	if b.opts.InitialCols > 0 {
		return b.opts.InitialCols
	}
	return defaultCols
}

// newTerminal spawns a child behind a fresh PTY using the configured shell
// and built environment. A per-call o.Cwd wins; otherwise this manager's
// configured Options.Cwd is used, falling back to the user's home (spec
// §4.1: "falling back to the user's home on failure"). It does not start
// reading.
func (b *base) newTerminal(o NewTerminalOptions) (*ptycore.Session, error) {
	cwd := o.Cwd
	if cwd == "" {
		cwd = b.opts.Cwd
	}
	sess, err := ptycore.Spawn(ptycore.SpawnOptions{
		Command: b.opts.ShellCommand,
		Env:     b.makeTermEnv(o),
		Dir:     cwd,
		Service: b.opts.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	log.Printf("manager: spawned session %s pid=%d", sess.ID(), sess.PID())
	return sess, nil
}

// startReading registers the session's PTY fd and launches its read pump.
// There is no single-threaded reactor to register with in this port; one
// goroutine per session plays the reactor's role. The fd table is guarded
// by b.mu, each Session guards its own fields with its own lock, and each
// policy type guards its policy state with a separate mutex: no single
// manager-wide lock serializes all of these mutations.
func (b *base) startReading(sess *ptycore.Session) {
	fd := sess.File().Fd()

	b.mu.Lock()
	b.sessionsByFD[fd] = sess
	b.mu.Unlock()

	go b.pumpLoop(sess, fd)
}

// pumpLoop is the equivalent of repeated reactor dispatch to pty_read:
// read, append to replay, fan out to clients in insertion order, until EOF.
func (b *base) pumpLoop(sess *ptycore.Session, fd uintptr) {
	for {
		chunk, err := sess.ReadNonblocking()
		if err != nil {
			b.onEOF(sess, fd)
			return
		}
		if len(chunk) == 0 {
			continue
		}
		sess.AppendRead(chunk)
		for _, c := range sess.Clients() {
			if err := c.Deliver(chunk); err != nil {
				// WriteError on this client's transport (spec §7): detach
				// it and let the terminal resize back up for whoever is
				// left, same as a voluntary on_close. The session itself
				// is unaffected, matching spec §7's propagation policy.
				log.Printf("manager: detaching client after delivery failure: %v", err)
				sess.RemoveClient(c)
				_ = sess.ResizeToSmallest()
			}
		}
	}
}

// onEOF removes the session from the fd table, closes its PTY fd, notifies
// every attached client, and lets the owning policy drop its own
// bookkeeping (by_name / current / all). The child itself was already (or
// will shortly be) reaped by the session's own waitForExit goroutine.
func (b *base) onEOF(sess *ptycore.Session, fd uintptr) {
	b.mu.Lock()
	delete(b.sessionsByFD, fd)
	b.mu.Unlock()

	log.Printf("manager: session %s pid=%d reached EOF, closing", sess.ID(), sess.PID())
	_ = sess.Close()

	for _, c := range sess.Clients() {
		c.NotifyPTYDied()
	}

	if b.hooks != nil {
		b.hooks.removeSession(sess)
	}
}

// shutdown forcibly terminates every tracked session concurrently and waits
// for all of them, then clears policy state — the base half of spec §4.5's
// shutdown/kill_all.
func (b *base) shutdown() {
	b.mu.Lock()
	sessions := make([]*ptycore.Session, 0, len(b.sessionsByFD))
	for _, sess := range b.sessionsByFD {
		sessions = append(sessions, sess)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(sessions))
	for _, sess := range sessions {
		go func(sess *ptycore.Session) {
			defer wg.Done()
			sess.Terminate(true)
		}(sess)
	}
	wg.Wait()

	if b.hooks != nil {
		b.hooks.killAll()
	}
}

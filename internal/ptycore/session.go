package ptycore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	writeChunkBytes = 4096
	writeMaxRetries = 50
	writeBackoff    = 10 * time.Millisecond
	readMaxBytes    = 65536
)

// Client is the contract a PTY session needs from whatever is attached to
// it: its last reported viewport for resize arbitration, a way to deliver a
// chunk of output, and notification when the child has died. wsclient.ClientSession
// implements this to attach directly to a ptycore.Session.
type Client interface {
	ReportedSize() (rows, cols int, ok bool)
	Deliver(chunk []byte) error
	NotifyPTYDied()
}

// Session owns one child process and its controlling PTY master fd, the
// ordered set of clients attached to it, and a bounded replay buffer of
// recent output. Grounded on terminal/session.go's TerminalSession, with
// the byte-size history buffer replaced by the spec's 10-chunk FIFO and
// write/read split out to match spec's non-blocking contract exactly.
type Session struct {
	mu      sync.Mutex
	id      uuid.UUID
	ptyFile *os.File
	proc    *os.Process
	name    string
	alive   bool
	exited  bool

	svc PTYService

	clients []Client
	replay  *replayBuffer

	lastRows, lastCols int
	haveAppliedSize    bool

	afterTerminate time.Duration
	sleep          func(time.Duration)
}

// Spawn forks a child whose stdin/stdout/stderr are the slave side of a
// freshly allocated PTY, and returns the session owning the non-blocking
// master fd and the child's pid. Before exec the child's working directory
// is cwd, falling back to the user's home on failure (see fallbackHome).
func Spawn(opts SpawnOptions) (*Session, error) {
	svc := opts.Service
	if svc == nil {
		svc = DefaultService{}
	}

	master, proc, err := svc.Open(opts.Command, opts.Env, opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s := &Session{
		id:             uuid.New(),
		ptyFile:        master,
		proc:           proc,
		alive:          true,
		svc:            svc,
		replay:         newReplayBuffer(),
		afterTerminate: 150 * time.Millisecond,
		sleep:          time.Sleep,
	}
	go s.waitForExit()
	return s, nil
}

// waitForExit blocks in proc.Wait() until the child exits, then marks the
// session as exited. This is the only place the child is ever reaped: a
// signal(0) existence probe can't tell a running process from an exited,
// unreaped zombie (the kernel answers success for both until something
// actually calls wait()), which made IsAlive report "alive" forever for a
// child that had already exited. Running the real wait continuously from
// spawn, instead of polling it only from Close, means IsAlive can answer
// from a cached, authoritative result instead of probing at all.
func (s *Session) waitForExit() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return
	}

	_, _ = proc.Wait()

	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()
}

// ID returns the session's process-lifetime-scoped identifier, stable from
// spawn to Close and independent of whatever name a NamedManager assigns.
// It exists for diagnostics that need to correlate log lines across a
// reconnect or a rename, something the human-chosen Name cannot do alone.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PID returns the child process identifier.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid
}

// Name returns the session's name, set only by the named manager.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName records the name under which a NamedManager is tracking this
// session, used for reverse lookup from on_eof.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Alive reports whether the session is between spawn and reap.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// File returns the PTY master fd, for registration with a reactor.
func (s *Session) File() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptyFile
}

// AddClient appends client to the ordered attachment list. Insertion order
// is preserved so fan-out and replay ordering stay deterministic.
func (s *Session) AddClient(c Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return ErrClosed
	}
	s.clients = append(s.clients, c)
	return nil
}

// RemoveClient detaches client if present; a no-op if it is not attached.
func (s *Session) RemoveClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.clients {
		if existing == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return
		}
	}
}

// Clients returns a stable snapshot of attached clients in insertion order.
func (s *Session) Clients() []Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Client, len(s.clients))
	copy(out, s.clients)
	return out
}

// Write delivers data to the PTY master in chunks of at most 4096 bytes.
// On would-block it retries up to 50 times with a 10ms back-off before
// failing; a zero-byte accepted write is itself treated as a failure.
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	alive := s.alive
	f := s.ptyFile
	s.mu.Unlock()
	if !alive {
		return 0, ErrClosed
	}

	written := 0
	for len(data) > 0 {
		n := len(data)
		if n > writeChunkBytes {
			n = writeChunkBytes
		}
		chunk := data[:n]

		wrote, err := s.writeChunkWithRetry(f, chunk)
		written += wrote
		if err != nil {
			return written, err
		}
		data = data[n:]
	}
	return written, nil
}

func (s *Session) writeChunkWithRetry(f *os.File, chunk []byte) (int, error) {
	for attempt := 0; attempt <= writeMaxRetries; attempt++ {
		n, err := f.Write(chunk)
		if err == nil {
			if n == 0 {
				return 0, fmt.Errorf("%w: zero-byte write accepted", ErrWriteFailed)
			}
			return n, nil
		}

		if errors.Is(err, syscall.EAGAIN) && attempt < writeMaxRetries {
			s.sleep(writeBackoff)
			continue
		}
		return n, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return 0, fmt.Errorf("%w: exhausted retries", ErrWriteFailed)
}

// ReadNonblocking reads up to 65536 bytes from the PTY master. io.EOF
// denotes the child has closed its end.
func (s *Session) ReadNonblocking() ([]byte, error) {
	s.mu.Lock()
	f := s.ptyFile
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return nil, ErrClosed
	}

	buf := make([]byte, readMaxBytes)
	n, err := f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, err
}

// AppendRead pushes chunk onto the bounded replay buffer, discarding the
// oldest chunk once the 10-chunk cap is exceeded.
func (s *Session) AppendRead(chunk []byte) {
	s.replay.append(chunk)
}

// Replay returns the concatenation of the buffered recent-output chunks, in
// order, for a client that attaches after output has already arrived.
func (s *Session) Replay() []byte {
	return s.replay.drain()
}

// ResizeToSmallest scans every attached client's reported (rows, cols) and,
// if at least one has reported both dimensions, sets the PTY window size to
// the component-wise minimum. Clients with unknown dimensions are ignored.
// A no-op when no client has reported, or when the computed size matches
// what is already applied (avoids spurious SIGWINCH).
func (s *Session) ResizeToSmallest() error {
	clients := s.Clients()

	haveAny := false
	minRows, minCols := 0, 0
	for _, c := range clients {
		rows, cols, ok := c.ReportedSize()
		if !ok {
			continue
		}
		if !haveAny || rows < minRows {
			minRows = rows
		}
		if !haveAny || cols < minCols {
			minCols = cols
		}
		haveAny = true
	}
	if !haveAny {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveAppliedSize && s.lastRows == minRows && s.lastCols == minCols {
		return nil
	}
	if !s.alive {
		return ErrClosed
	}
	if err := s.svc.Setsize(s.ptyFile, minRows, minCols); err != nil {
		return err
	}
	s.lastRows, s.lastCols = minRows, minCols
	s.haveAppliedSize = true
	return nil
}

// HangupSignal returns the platform's first escalation-ladder signal, the
// one a policy sends on an ordinary client disconnect (spec §4.3, Unique).
func HangupSignal() os.Signal {
	return escalationSignals[0]
}

// Kill sends sig directly to the child process.
func (s *Session) Kill(sig os.Signal) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return signalProcess(proc, sig)
}

// IsAlive reports whether the child is still running, i.e. whether
// waitForExit's proc.Wait() has not yet returned. Unlike an existence probe, this
// can never report "alive" for an exited-but-unreaped process, so the
// graceful terminator (Terminate) can rely on it to mean what spec §4.1
// says: "confirmed dead", not merely "still has a pid". SIGCHLD is
// intentionally not installed (spec §9); waitForExit is the mechanism by
// which a child's death is learned and reaped without one.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exited
}

// Close tears the session down: removes and closes the PTY master fd
// (exactly once) and rejects further writes. It does not wait for or reap
// the child itself — waitForExit, running since Spawn, does that whenever
// the child actually exits. Close also does not touch the clients list or
// notify anyone — callers (TerminalManager.onEOF) own that sequencing so
// fan-out order matches spec.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	s.alive = false
	f := s.ptyFile
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}

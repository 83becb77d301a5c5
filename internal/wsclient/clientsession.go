// Package wsclient implements ClientSession, the per-WebSocket-connection
// half of the protocol (spec §4.4): origin-checked handshake, the
// PRE_OPEN/ATTACHED/TERMINAL state machine, and the stdin/set_size/stdout/
// disconnect frame protocol. Grounded on the teacher's handleWebSocket
// (internal/server/server.go) for the gorilla/websocket upgrade-and-pump
// shape, generalized from its ad hoc "input"/"resize" JSON object frames to
// the spec's ["cmd", ...] array framing.
package wsclient

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iwanhae/terminalcore/internal/manager"
	"github.com/iwanhae/terminalcore/internal/ptycore"
)

// State is the ClientSession lifecycle (spec §4.4 state table).
type State int

const (
	StatePreOpen State = iota
	StateAttached
	StateTerminal
)

const (
	sendQueueSize = 256
	writeTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Origin is checked ourselves before Upgrade is even called, so that a
	// rejection can answer with 404 rather than gorilla's built-in 403.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientSession is one WebSocket connection attached to at most one
// ptycore.Session at a time. It implements ptycore.Client.
type ClientSession struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	mgr     manager.TerminalManager
	session *ptycore.Session
	state   State

	rows, cols int
	reported   bool

	send       chan []byte
	sendClosed bool
	decoder    incrementalDecoder
}

// Serve upgrades r to a WebSocket (after an origin check, rejecting with
// 404 on mismatch per spec §4.4/§6) and runs a ClientSession against mgr
// for urlKey until the connection closes.
func Serve(w http.ResponseWriter, r *http.Request, mgr manager.TerminalManager, urlKey string) error {
	if !originAllowed(r) {
		http.NotFound(w, r)
		return ErrOriginMismatch
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	cs := &ClientSession{
		conn: conn,
		mgr:  mgr,
		send: make(chan []byte, sendQueueSize),
	}
	cs.run(urlKey)
	return nil
}

// run drives one ClientSession through open, the read/write pumps, and
// close, matching the shape of the teacher's handleWebSocket but against
// the spec's open()/on_message/on_close contract instead of a single
// session-ID path parameter.
func (cs *ClientSession) run(urlKey string) {
	if !cs.open(urlKey) {
		_ = cs.conn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cs.writePump()
	}()

	cs.readPump()
	// readPump returning means the transport is already gone, whether
	// because the client closed it or NotifyPTYDied closed it first;
	// closeSendQueue is idempotent, and unblocks writePump's range loop in
	// the client-initiated case where nothing else would ever close it.
	cs.closeSendQueue()
	wg.Wait()

	cs.onClose()
}

// open implements spec §4.4 open(url_key?): acquire a session, attach,
// replay buffered output, then send the setup frame.
func (cs *ClientSession) open(urlKey string) bool {
	sess, err := cs.mgr.GetTerminal(urlKey)
	if err != nil {
		log.Printf("wsclient: get_terminal(%q) failed: %v", urlKey, err)
		return false
	}

	if err := sess.AddClient(cs); err != nil {
		log.Printf("wsclient: attach to terminal failed: %v", err)
		return false
	}

	cs.mu.Lock()
	cs.session = sess
	cs.state = StateAttached
	cs.mu.Unlock()

	if replay := sess.Replay(); len(replay) > 0 {
		_ = cs.enqueue(stdoutFrame(cs.decoder.Decode(replay)))
	}
	_ = cs.enqueue(setupFrame())
	return true
}

// writePump drains the send queue onto the WebSocket, matching the
// teacher's write-pump: one goroutine owns the connection for writes, with
// a deadline refreshed before every frame.
func (cs *ClientSession) writePump() {
	for msg := range cs.send {
		_ = cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cs.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	// The send queue closes from NotifyPTYDied (with the disconnect frame
	// already queued ahead of it), from run once readPump has returned, or
	// from enqueue when the queue is full. In every case: send the close
	// frame, then tear the connection down so a blocked ReadMessage in
	// readPump unblocks too.
	_ = cs.conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = cs.conn.Close()
}

// readPump implements spec §4.4 on_message: decode each frame, dispatch by
// command, ignore unknown commands, drop malformed frames without
// disconnecting (spec §7: MalformedFrame).
func (cs *ClientSession) readPump() {
	for {
		_, raw, err := cs.conn.ReadMessage()
		if err != nil {
			return
		}

		cmd, args, ok := parseFrame(raw)
		if !ok {
			continue
		}

		switch cmd {
		case "stdin":
			cs.handleStdin(args)
		case "set_size":
			cs.handleSetSize(args)
		default:
			// Unknown commands are ignored, non-fatal (spec §4.4).
		}
	}
}

func (cs *ClientSession) handleStdin(args []json.RawMessage) {
	if len(args) < 1 {
		return
	}
	var text string
	if err := json.Unmarshal(args[0], &text); err != nil {
		return
	}

	cs.mu.Lock()
	sess := cs.session
	cs.mu.Unlock()
	if sess == nil {
		return
	}
	if _, err := sess.Write([]byte(text)); err != nil {
		log.Printf("wsclient: write to pty failed: %v", err)
	}
}

func (cs *ClientSession) handleSetSize(args []json.RawMessage) {
	if len(args) < 2 {
		return
	}
	var rows, cols int
	if err := json.Unmarshal(args[0], &rows); err != nil {
		return
	}
	if err := json.Unmarshal(args[1], &cols); err != nil {
		return
	}

	cs.mu.Lock()
	cs.rows, cs.cols, cs.reported = rows, cols, true
	sess := cs.session
	cs.mu.Unlock()

	if sess != nil {
		if err := sess.ResizeToSmallest(); err != nil {
			log.Printf("wsclient: resize_to_smallest failed: %v", err)
		}
	}
}

// onClose implements spec §4.4 on_close(): detach, let the terminal grow
// back to fit the remaining clients, and notify the policy.
func (cs *ClientSession) onClose() {
	cs.mu.Lock()
	sess := cs.session
	cs.state = StateTerminal
	cs.mu.Unlock()

	if sess == nil {
		return
	}
	sess.RemoveClient(cs)
	if err := sess.ResizeToSmallest(); err != nil {
		log.Printf("wsclient: resize_to_smallest on close failed: %v", err)
	}
	cs.mgr.ClientDisconnected(sess, cs)
}

// enqueue and closeSendQueue share cs.mu so a send can never race a close:
// without that, a concurrent NotifyPTYDied could close cs.send between
// enqueue's closed-check and its channel send, panicking on a closed
// channel.
//
// A full queue means this client can't keep up with the session's output.
// Dropping the frame would leave a silent gap in what spec §8 requires to
// be a monotonic, gapless suffix of the PTY stream for this client, so a
// full queue is treated as a WriteError instead (spec §7): the queue is
// torn down here, which drives writePump to close the transport, and the
// failure is reported back to the caller so it can detach this client from
// the session rather than keep attempting delivery.
func (cs *ClientSession) enqueue(frame []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.sendClosed {
		return ErrClosed
	}
	select {
	case cs.send <- frame:
		return nil
	default:
		cs.closeSendQueueLocked()
		return ErrQueueFull
	}
}

func (cs *ClientSession) closeSendQueue() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closeSendQueueLocked()
}

func (cs *ClientSession) closeSendQueueLocked() {
	if cs.sendClosed {
		return
	}
	cs.sendClosed = true
	close(cs.send)
}

// ReportedSize implements ptycore.Client.
func (cs *ClientSession) ReportedSize() (rows, cols int, ok bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.rows, cs.cols, cs.reported
}

// Deliver implements ptycore.Client: spec §4.4 on_pty_read(chunk). A
// non-nil return is a WriteError (spec §7): the caller (the manager's
// fan-out loop) must detach this client from the session.
func (cs *ClientSession) Deliver(chunk []byte) error {
	text := cs.decoder.Decode(chunk)
	if text == "" {
		return nil
	}
	return cs.enqueue(stdoutFrame(text))
}

// NotifyPTYDied implements ptycore.Client: spec §4.4 on_pty_died().
func (cs *ClientSession) NotifyPTYDied() {
	if tail := cs.decoder.Flush(); tail != "" {
		_ = cs.enqueue(stdoutFrame(tail))
	}
	_ = cs.enqueue(disconnectFrame())

	cs.mu.Lock()
	cs.state = StateTerminal
	cs.mu.Unlock()
	cs.closeSendQueue()
}

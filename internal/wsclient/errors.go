package wsclient

import "errors"

// ErrOriginMismatch is returned by Serve before any session is created,
// surfaced to the caller as an HTTP 404 (spec §7: OriginMismatch).
var ErrOriginMismatch = errors.New("wsclient: origin mismatch")

// ErrQueueFull is returned by Deliver when a client's outgoing queue is
// already full: a WriteError (spec §7), not a frame to silently drop,
// since dropping would violate the per-client monotonic-ordering
// invariant of spec §8.
var ErrQueueFull = errors.New("wsclient: send queue full")

// ErrClosed is returned by Deliver/enqueue once the send queue has already
// been torn down.
var ErrClosed = errors.New("wsclient: client session closed")

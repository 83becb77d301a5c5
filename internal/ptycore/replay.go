package ptycore

import "sync"

// replayBufferCap is the bounded FIFO depth from spec: "read_buffer: bounded
// FIFO of the most recent output chunks (bound = 10 chunks)". It exists only
// to give a late-attaching client a glimpse of the most recent prompt, not a
// durable transcript — it must never grow.
const replayBufferCap = 10

// replayBuffer is a bounded FIFO of the most recently read PTY output
// chunks, grounded on the teacher's InMemoryHistory (terminal/session.go)
// but bounded by chunk count rather than byte size, per spec.
type replayBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
}

func newReplayBuffer() *replayBuffer {
	return &replayBuffer{chunks: make([][]byte, 0, replayBufferCap)}
}

// append pushes chunk onto the FIFO, discarding the oldest entry once the
// cap is exceeded.
func (b *replayBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(chunk))
	copy(stored, chunk)

	b.chunks = append(b.chunks, stored)
	if len(b.chunks) > replayBufferCap {
		b.chunks = b.chunks[len(b.chunks)-replayBufferCap:]
	}
}

// drain returns the concatenation of every buffered chunk, in order, as a
// single byte slice — the shape a late-joining client replays as one
// "stdout" message.
func (b *replayBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, c := range b.chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}

	out := make([]byte, 0, total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

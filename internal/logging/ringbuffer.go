package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer that implements io.Writer.
// Once full it overwrites the oldest data, so it always holds the most recent
// log output for crash dumps.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int // next write position
	wrapped bool
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 4 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. Never fails; old data is overwritten when full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)
	if n >= size {
		// Oversized write: only the tail survives
		copy(rb.buf, p[n-size:])
		rb.head = 0
		rb.wrapped = true
		return n, nil
	}

	remain := size - rb.head
	if n <= remain {
		copy(rb.buf[rb.head:], p)
		rb.head += n
		if rb.head == size {
			rb.head = 0
			rb.wrapped = true
		}
		return n, nil
	}

	copy(rb.buf[rb.head:], p[:remain])
	copy(rb.buf, p[remain:])
	rb.head = n - remain
	rb.wrapped = true
	return n, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		out := make([]byte, rb.head)
		copy(out, rb.buf[:rb.head])
		return out
	}

	size := len(rb.buf)
	out := make([]byte, size)
	copy(out, rb.buf[rb.head:])
	copy(out[size-rb.head:], rb.buf[:rb.head])
	return out
}

// DumpToFile writes the buffer contents to path in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}

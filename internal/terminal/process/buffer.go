package process

import "sync"

// Buffer is a thread-safe circular buffer holding the most recent output.
// When full, the oldest bytes are overwritten.
type Buffer struct {
	data []byte
	size int
	head int
	full bool
	mu   sync.RWMutex
}

// NewBuffer creates a new circular buffer
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, discarding the oldest bytes when capacity is exceeded.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.head = 0
		b.full = true
		return n, nil
	}

	first := copy(b.data[b.head:], p)
	if first < n {
		copy(b.data, p[first:])
		b.full = true
	}
	b.head = (b.head + n) % b.size
	if b.head == 0 {
		b.full = true
	}
	return n, nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.full {
		return b.size
	}
	return b.head
}

// Snapshot returns a copy of the buffered bytes, oldest first. The buffer
// is left unchanged.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]byte, b.head)
		copy(out, b.data[:b.head])
		return out
	}

	out := make([]byte, b.size)
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return out
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.full = false
}

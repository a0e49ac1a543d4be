package logging

import (
	"bytes"
	"os"
	"sync"
)

// RingBuffer keeps the most recent log output in memory so it can be dumped
// on SIGUSR1 or served from the debug endpoint. Old bytes are overwritten.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	next    int
	wrapped bool
}

// NewRingBuffer allocates a buffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 4 * 1024 * 1024
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// Write implements io.Writer and never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.data)
	written := len(p)
	if written >= capacity {
		copy(rb.data, p[written-capacity:])
		rb.next = 0
		rb.wrapped = true
		return written, nil
	}

	n := copy(rb.data[rb.next:], p)
	if n < written {
		copy(rb.data, p[n:])
		rb.next = written - n
		rb.wrapped = true
		return written, nil
	}
	rb.next += n
	if rb.next == capacity {
		rb.next = 0
		rb.wrapped = true
	}
	return written, nil
}

// Len reports how many bytes are currently retained.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.wrapped {
		return len(rb.data)
	}
	return rb.next
}

// Bytes returns a copy of the retained output, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.data[:rb.next]...)
	}
	out := make([]byte, 0, len(rb.data))
	out = append(out, rb.data[rb.next:]...)
	return append(out, rb.data[:rb.next]...)
}

// Tail returns up to n complete lines from the end of the buffer.
// A partial first line left over from wrapping is skipped.
func (rb *RingBuffer) Tail(n int) [][]byte {
	if n <= 0 {
		return nil
	}
	wrapped := rb.isWrapped()
	data := rb.Bytes()
	if wrapped {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return nil
	}
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (rb *RingBuffer) isWrapped() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.wrapped
}

// DumpToFile writes the retained output to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}

package logging

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWrite(t *testing.T) {
	rb := NewRingBuffer(64)

	n, err := rb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(rb.Bytes()))
	assert.Equal(t, 5, rb.Len())
}

func TestRingBufferWrapKeepsNewest(t *testing.T) {
	rb := NewRingBuffer(10)

	_, _ = rb.Write([]byte("abcdefghij"))
	_, _ = rb.Write([]byte("12345"))

	assert.Equal(t, "fghij12345", string(rb.Bytes()))
	assert.Equal(t, 10, rb.Len())
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(5)
	_, _ = rb.Write([]byte("0123456789"))
	assert.Equal(t, "56789", string(rb.Bytes()))
}

func TestRingBufferSmallWritesExactFill(t *testing.T) {
	rb := NewRingBuffer(8)
	for _, s := range []string{"AA", "BB", "CC", "DD"} {
		_, _ = rb.Write([]byte(s))
	}
	assert.Equal(t, "AABBCCDD", string(rb.Bytes()))

	_, _ = rb.Write([]byte("EE"))
	assert.Equal(t, "BBCCDDEE", string(rb.Bytes()))
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(1024)
	_, _ = rb.Write([]byte("one\ntwo\nthree\n"))

	lines := rb.Tail(2)
	require.Len(t, lines, 2)
	assert.Equal(t, "two", string(lines[0]))
	assert.Equal(t, "three", string(lines[1]))

	assert.Nil(t, NewRingBuffer(16).Tail(3))
}

func TestRingBufferTailSkipsPartialLineAfterWrap(t *testing.T) {
	rb := NewRingBuffer(12)
	_, _ = rb.Write([]byte("aaaa\nbbbb\ncccc\n"))

	lines := rb.Tail(10)
	require.Len(t, lines, 2)
	assert.Equal(t, "bbbb", string(lines[0]))
	assert.Equal(t, "cccc", string(lines[1]))
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("dump_test_data"))

	path := filepath.Join(t.TempDir(), "dump.bin")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dump_test_data", string(data))
}

func TestRingBufferConcurrentWrites(t *testing.T) {
	rb := NewRingBuffer(1024)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = rb.Write([]byte("x"))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, rb.Bytes(), 1000)
}

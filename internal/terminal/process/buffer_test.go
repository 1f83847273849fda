package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"empty", 8, nil, ""},
		{"under capacity", 8, []string{"abc", "de"}, "abcde"},
		{"exactly full", 4, []string{"ab", "cd"}, "abcd"},
		{"wraps", 4, []string{"abc", "def"}, "cdef"},
		{"single oversized write", 4, []string{"abcdefgh"}, "efgh"},
		{"many small writes", 3, []string{"a", "b", "c", "d", "e"}, "cde"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.size)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(b.Snapshot()))
			assert.Equal(t, len(tt.want), b.Len())
		})
	}
}

func TestBufferSnapshotIsNonDestructive(t *testing.T) {
	b := NewBuffer(16)
	_, _ = b.Write([]byte("hello"))

	assert.Equal(t, "hello", string(b.Snapshot()))
	assert.Equal(t, "hello", string(b.Snapshot()))

	b.Reset()
	assert.Empty(t, b.Snapshot())
}

func TestCompleteUTF8(t *testing.T) {
	euro := []byte("€") // e2 82 ac

	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"ascii", []byte("abc"), 3},
		{"complete multibyte", append([]byte("a"), euro...), 4},
		{"one byte of three", append([]byte("a"), euro[:1]...), 1},
		{"two bytes of three", append([]byte("ab"), euro[:2]...), 2},
		{"stray continuation byte", []byte{'a', 0x82}, 2},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, completeUTF8(tt.in))
		})
	}
}

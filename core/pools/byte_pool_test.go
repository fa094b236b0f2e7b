package pools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool_Tiers(t *testing.T) {
	assert.Equal(t, []int{512, 1024, 2048, 4096, 8192}, NewBytePool(8192).sizes)
	assert.Equal(t, []int{512, 1024, 2048, 4096, 5000}, NewBytePool(5000).sizes)
	assert.Equal(t, []int{512}, NewBytePool(512).sizes)
	assert.Equal(t, []int{100}, NewBytePool(100).sizes)
}

func TestBytePool_GetSmallest(t *testing.T) {
	bp := NewBytePool(8192)

	buf := bp.Get()
	assert.Len(t, buf, MinBufferSize)
	assert.Equal(t, 8192, bp.MaxSize())
}

func TestBytePool_GrowKeepsData(t *testing.T) {
	bp := NewBytePool(2048)

	buf := bp.Get()
	copy(buf, "GET / HTTP/1.1\r\n")

	buf, ok := bp.Grow(buf, 16)
	assert.True(t, ok)
	assert.Len(t, buf, 1024)
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(buf[:16]))

	buf, ok = bp.Grow(buf, 16)
	assert.True(t, ok)
	assert.Len(t, buf, 2048)

	same, ok := bp.Grow(buf, 16)
	assert.False(t, ok, "largest tier cannot grow")
	assert.Len(t, same, 2048)
}

func TestBytePool_PutIgnoresForeign(t *testing.T) {
	bp := NewBytePool(1024)

	bp.Put(make([]byte, 700))
	_, ok := bp.Grow(make([]byte, 700), 0)
	assert.False(t, ok)

	buf := bp.Get()
	bp.Put(buf[:10])
	assert.Len(t, bp.Get(), MinBufferSize, "recycled buffers come back at full length")
}

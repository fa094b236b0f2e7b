package pools

import "sync"

// MinBufferSize is the smallest tier a BytePool hands out
const MinBufferSize = 512

// BytePool recycles receive buffers in size tiers that double from
// MinBufferSize up to a fixed maximum. Buffers start in the smallest tier
// and move up with Grow.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// NewBytePool creates a pool whose largest tier is exactly maxSize
func NewBytePool(maxSize int) *BytePool {
	var sizes []int
	for size := MinBufferSize; size < maxSize; size *= 2 {
		sizes = append(sizes, size)
	}
	sizes = append(sizes, maxSize)

	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		size := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return bp
}

// MaxSize is the capacity of the largest tier
func (bp *BytePool) MaxSize() int { return bp.sizes[len(bp.sizes)-1] }

// Get returns a buffer from the smallest tier
func (bp *BytePool) Get() []byte {
	return bp.get(0)
}

func (bp *BytePool) get(tier int) []byte {
	return *bp.pools[tier].Get().(*[]byte)
}

// Grow moves the first used bytes of buf into a buffer of the next tier
// and recycles buf. It reports false, leaving buf untouched, when buf is
// already in the largest tier.
func (bp *BytePool) Grow(buf []byte, used int) ([]byte, bool) {
	tier := bp.tier(cap(buf))
	if tier < 0 || tier == len(bp.sizes)-1 {
		return buf, false
	}
	next := bp.get(tier + 1)
	copy(next, buf[:used])
	bp.Put(buf)
	return next, true
}

// Put recycles a buffer obtained from Get or Grow. Foreign slices are
// left to the GC.
func (bp *BytePool) Put(buf []byte) {
	if tier := bp.tier(cap(buf)); tier >= 0 {
		buf = buf[:cap(buf)]
		bp.pools[tier].Put(&buf)
	}
}

func (bp *BytePool) tier(capacity int) int {
	for i, size := range bp.sizes {
		if capacity == size {
			return i
		}
	}
	return -1
}

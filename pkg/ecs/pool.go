package ecs

import (
	"math/bits"
	"sync/atomic"
)

// wordBits is the width of one bucket in Pool's free-list bitmap.
const wordBits = 32

// Pool is a shared free-list allocator for entity IDs in [0, capacity). ID 0
// is reserved at construction time ("never an entity" per the entity model)
// so it is never handed out by Get.
//
// The free-list is a bitmap of capacity bits grouped into 32-bit buckets
// where a set bit means "free". Get scans buckets for a nonzero word and
// claims the lowest set bit with a compare-and-swap loop; Free sets the bit
// back with the same technique. Both are safe to call from multiple
// goroutines concurrently.
type Pool struct {
	buckets  []atomic.Uint32
	capacity uint32
}

// NewPool creates a pool over entity IDs [0, capacity). Capacity must be at
// least 1; ID 0 is reserved and never returned by Get.
func NewPool(capacity uint32) *Pool {
	bucketCount := (capacity + wordBits - 1) / wordBits
	p := &Pool{
		buckets:  make([]atomic.Uint32, bucketCount),
		capacity: capacity,
	}
	for i := range p.buckets {
		p.buckets[i].Store(^uint32(0))
	}
	// Clear any bits at or beyond capacity in the last bucket.
	if rem := capacity % wordBits; rem != 0 {
		mask := uint32(1)<<rem - 1
		p.buckets[len(p.buckets)-1].Store(mask)
	}
	// Reserve ID 0.
	p.buckets[0].And(^uint32(1))
	return p
}

// Get atomically returns the lowest free entity ID, or ErrPoolExhausted if
// none remain.
func (p *Pool) Get() (uint32, error) {
	for bucketIdx := range p.buckets {
		bucket := &p.buckets[bucketIdx]
		for {
			word := bucket.Load()
			if word == 0 {
				break
			}
			bit := uint32(bits.TrailingZeros32(word))
			newWord := word &^ (1 << bit)
			if bucket.CompareAndSwap(word, newWord) {
				return uint32(bucketIdx)*wordBits + bit, nil
			}
			// Lost the race to another goroutine claiming a bit in this
			// bucket; retry against the fresh word.
		}
	}
	return 0, ErrPoolExhausted
}

// Free returns id to the pool. Callers must not free an id that is still in
// use; double-free is not detected.
func (p *Pool) Free(id uint32) {
	bucketIdx := id / wordBits
	bit := id % wordBits
	p.buckets[bucketIdx].Or(1 << bit)
}

// BucketCount returns the number of 32-bit buckets backing the free-list,
// for transfer to workers reconstructing a view over the same buffer.
func (p *Pool) BucketCount() int { return len(p.buckets) }

// Size returns the entity ID capacity this pool was constructed with.
func (p *Pool) Size() uint32 { return p.capacity }

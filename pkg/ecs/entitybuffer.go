package ecs

import (
	"math/bits"
	"sync/atomic"
)

// maxGeneration is the wraparound bound for the 7-bit generation counter.
const maxGeneration = 1 << 7

// liveBit and genShift locate the liveness flag and generation field inside
// one EntityBuffer.state word. The remaining high bits are unused padding
// reserved for future flags.
const (
	liveBit  = 1
	genShift = 1
	genMask  = maxGeneration - 1
)

// EntityBuffer is a fixed-size structure over shared memory tracking, per
// entity ID: a liveness bit, a 7-bit wrapping generation counter, and a
// component-membership bitmap of componentCount bits. All three live behind
// atomic word accesses so they're safe to read and write from worker
// goroutines sharing the same backing arrays as the main goroutine.
//
// Liveness and generation are packed into one atomic.Uint32 per entity
// (bit 0 = live, bits 1-7 = generation) rather than as three separate arrays;
// this is an internal layout choice. Only the membership bitmap's byte order
// is a cross-thread binary contract.
type EntityBuffer struct {
	state          []atomic.Uint32 // per-entity: live bit + generation
	membership     []atomic.Uint32 // per-entity: componentCount bits, little-endian word order
	wordsPerEntity uint32
	componentCount uint32
	maxEntities    uint32
}

// NewEntityBuffer allocates an EntityBuffer for maxEntities entities (IDs in
// [0, maxEntities)) and componentCount distinct component bits.
func NewEntityBuffer(maxEntities, componentCount uint32) *EntityBuffer {
	wordsPerEntity := (componentCount + wordBits - 1) / wordBits
	if wordsPerEntity == 0 {
		wordsPerEntity = 1
	}
	return &EntityBuffer{
		state:          make([]atomic.Uint32, maxEntities),
		membership:     make([]atomic.Uint32, uint64(maxEntities)*uint64(wordsPerEntity)),
		wordsPerEntity: wordsPerEntity,
		componentCount: componentCount,
		maxEntities:    maxEntities,
	}
}

// Create marks id live and clears its component membership bits. The
// generation counter is bumped (mod 128) only when id is still live at the
// time of the call; a slot that was marked dead keeps its generation, and a
// reclaimed slot keeps the generation Delete already bumped.
func (b *EntityBuffer) Create(id uint32) {
	for {
		old := b.state[id].Load()
		gen := (old >> genShift) & genMask
		if old&liveBit != 0 {
			gen = (gen + 1) % maxGeneration
		}
		newState := liveBit | (gen << genShift)
		if b.state[id].CompareAndSwap(old, newState) {
			break
		}
	}
	b.clearMembership(id)
}

// MarkDead clears id's liveness bit. Generation and membership bits are left
// intact so REMOVED observers can still read them until reclamation.
func (b *EntityBuffer) MarkDead(id uint32) {
	for {
		old := b.state[id].Load()
		newState := old &^ liveBit
		if b.state[id].CompareAndSwap(old, newState) {
			return
		}
	}
}

// Delete wipes id's liveness and membership bits and bumps the generation.
// Only the World's reclamation step calls this, after every system has
// observed the id's REMOVED event. The bump happens here rather than in
// Create because a reclaimed slot reads as never-live, so Create's was-live
// check alone could not keep generations strictly increasing across
// reclamations.
func (b *EntityBuffer) Delete(id uint32) {
	for {
		old := b.state[id].Load()
		gen := (old >> genShift) & genMask
		gen = (gen + 1) % maxGeneration
		newState := gen << genShift // liveBit cleared
		if b.state[id].CompareAndSwap(old, newState) {
			break
		}
	}
	b.clearMembership(id)
}

// Has reports whether id is currently live.
func (b *EntityBuffer) Has(id uint32) bool {
	return b.state[id].Load()&liveBit != 0
}

// GetGeneration returns id's current generation counter.
func (b *EntityBuffer) GetGeneration(id uint32) uint32 {
	return (b.state[id].Load() >> genShift) & genMask
}

func (b *EntityBuffer) wordIndex(id, componentID uint32) (word uint32, bit uint32) {
	word = id*b.wordsPerEntity + componentID/wordBits
	bit = componentID % wordBits
	return
}

// AddComponentToEntity sets id's membership bit for componentID.
func (b *EntityBuffer) AddComponentToEntity(id, componentID uint32) {
	w, bit := b.wordIndex(id, componentID)
	b.membership[w].Or(1 << bit)
}

// RemoveComponentFromEntity clears id's membership bit for componentID.
func (b *EntityBuffer) RemoveComponentFromEntity(id, componentID uint32) {
	w, bit := b.wordIndex(id, componentID)
	b.membership[w].And(^uint32(1 << bit))
}

// HasComponent reports whether id's membership bitmap has componentID set.
func (b *EntityBuffer) HasComponent(id, componentID uint32) bool {
	w, bit := b.wordIndex(id, componentID)
	return b.membership[w].Load()&(1<<bit) != 0
}

func (b *EntityBuffer) clearMembership(id uint32) {
	base := id * b.wordsPerEntity
	for i := uint32(0); i < b.wordsPerEntity; i++ {
		b.membership[base+i].Store(0)
	}
}

// QueryMask is the with/without/any bitmask descriptor a Query matches
// entities against (tracking plays no part in matching).
// Masks are indexed by componentID; see bitset-backed Query for the concrete
// representation.
type QueryMask struct {
	With    []uint32
	Without []uint32
	Any     []uint32
}

// Matches evaluates id's membership bitmap against a query's with/without/any
// masks, each expressed as wordsPerEntity-length slices of componentCount
// bits (same word layout as the membership bitmap). An empty Any mask (all
// zero words) means "don't require".
func (b *EntityBuffer) Matches(id uint32, with, without, any []uint32) bool {
	base := id * b.wordsPerEntity
	anyIsEmpty := true
	var anyMatched bool
	for i := uint32(0); i < b.wordsPerEntity; i++ {
		bits := b.membership[base+i].Load()
		if i < uint32(len(with)) && bits&with[i] != with[i] {
			return false
		}
		if i < uint32(len(without)) && bits&without[i] != 0 {
			return false
		}
		if i < uint32(len(any)) && any[i] != 0 {
			anyIsEmpty = false
			if bits&any[i] != 0 {
				anyMatched = true
			}
		}
	}
	return anyIsEmpty || anyMatched
}

// GetComponentIDs returns the set bits (component IDs) in id's membership
// bitmap.
func (b *EntityBuffer) GetComponentIDs(id uint32) []uint32 {
	var ids []uint32
	base := id * b.wordsPerEntity
	for i := uint32(0); i < b.wordsPerEntity; i++ {
		word := b.membership[base+i].Load()
		for word != 0 {
			bit := uint32(bits.TrailingZeros32(word))
			ids = append(ids, i*wordBits+bit)
			word &^= 1 << bit
		}
	}
	return ids
}

// MaxEntities returns the entity ID capacity this buffer was built for.
func (b *EntityBuffer) MaxEntities() uint32 { return b.maxEntities }

// ComponentCount returns the component bit-space width this buffer was built
// for.
func (b *EntityBuffer) ComponentCount() uint32 { return b.componentCount }

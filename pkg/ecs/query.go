package ecs

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// bitsetMask wraps a bits-and-blooms/bitset.BitSet for one of a Query's
// static descriptor masks (with/without/any/tracking). These are descriptors
// private to one process, not the wire-format entity membership bitmap, so
// they are free to use a general-purpose bitset type.
type bitsetMask struct {
	bs *bitset.BitSet
}

func newBitsetMask(componentCount uint32) *bitsetMask {
	return &bitsetMask{bs: bitset.New(uint(componentCount))}
}

func (m *bitsetMask) set(id uint32) { m.bs.Set(uint(id)) }

func (m *bitsetMask) test(id uint32) bool { return m.bs.Test(uint(id)) }

func (m *bitsetMask) isEmpty() bool { return m.bs.None() }

// words flattens the mask into wordsPerEntity 32-bit little-endian words,
// matching EntityBuffer's membership bitmap layout, so Query can hand
// EntityBuffer.Matches a precomputed mask instead of re-walking the bitset
// on every entity test.
func (m *bitsetMask) words(wordsPerEntity uint32) []uint32 {
	words := make([]uint32, wordsPerEntity)
	for i, e := m.bs.NextSet(0); e; i, e = m.bs.NextSet(i + 1) {
		words[uint32(i)/wordBits] |= 1 << (uint32(i) % wordBits)
	}
	return words
}

// QueryOptions names the components a Query matches by, as registered
// *ComponentDefs. With requires all listed components; Without excludes any
// of them; Any requires at least one (empty means "don't require"); Tracking
// names the components whose CHANGED events are reported to this query's
// changed().
type QueryOptions struct {
	With     []*ComponentDef
	Without  []*ComponentDef
	Any      []*ComponentDef
	Tracking []*ComponentDef
}

// Query is a pure descriptor over four bitmasks — with/without/any/tracking
// — built once (typically at package scope) and bound to a reader's
// position in the event log on first use via Context.Query.
type Query struct {
	world          *World
	with           []uint32
	without        []uint32
	any            []uint32
	anyEmpty       bool
	trackingMask   *bitsetMask
	wordsPerEntity uint32

	instMu    sync.Mutex
	instances map[string]*QueryInstance
}

// newQuery resolves opts against w's registered components and builds the
// four masks. Unknown/unregistered definitions are an error.
func newQuery(w *World, opts QueryOptions) (*Query, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	wordsPerEntity := (w.componentCount + wordBits - 1) / wordBits
	if wordsPerEntity == 0 {
		wordsPerEntity = 1
	}
	with := newBitsetMask(w.componentCount)
	without := newBitsetMask(w.componentCount)
	any := newBitsetMask(w.componentCount)
	tracking := newBitsetMask(w.componentCount)

	fill := func(defs []*ComponentDef, mask *bitsetMask) error {
		for _, def := range defs {
			comp, ok := w.components[def]
			if !ok {
				return ErrNotRegistered
			}
			mask.set(comp.id)
		}
		return nil
	}
	if err := fill(opts.With, with); err != nil {
		return nil, err
	}
	if err := fill(opts.Without, without); err != nil {
		return nil, err
	}
	if err := fill(opts.Any, any); err != nil {
		return nil, err
	}
	if err := fill(opts.Tracking, tracking); err != nil {
		return nil, err
	}

	return &Query{
		world:          w,
		with:           with.words(wordsPerEntity),
		without:        without.words(wordsPerEntity),
		any:            any.words(wordsPerEntity),
		anyEmpty:       any.isEmpty(),
		trackingMask:   tracking,
		wordsPerEntity: wordsPerEntity,
		instances:      make(map[string]*QueryInstance),
	}, nil
}

func (q *Query) matchesEntity(id uint32) bool {
	anyMask := q.any
	if q.anyEmpty {
		anyMask = nil
	}
	return q.world.entityBuffer.Matches(id, q.with, q.without, anyMask)
}

// instanceFor returns (creating if necessary) the per-reader state for
// readerID, eagerly seeding a brand-new reader's lastScannedIndex to
// seedIndex (the World's current write index) so only later events are seen.
// Safe for concurrent use: worker-system goroutines bind their contexts to
// queries in parallel.
func (q *Query) instanceFor(readerID string, seedIndex uint32) *QueryInstance {
	q.instMu.Lock()
	defer q.instMu.Unlock()
	if inst, ok := q.instances[readerID]; ok {
		return inst
	}
	inst := &QueryInstance{
		query:            q,
		readerID:         readerID,
		membership:       make(map[uint32]int),
		lastScannedIndex: seedIndex,
	}
	q.instances[readerID] = inst
	return inst
}

func (q *Query) dropInstance(readerID string) {
	q.instMu.Lock()
	delete(q.instances, readerID)
	q.instMu.Unlock()
}

// QueryInstance is the per-reader state for a Query: its position in the
// event log, a dense cache of currently matching entities, and per-tick
// memoization of added/removed/changed so repeated calls within one tick are
// idempotent.
type QueryInstance struct {
	query            *Query
	readerID         string
	lastScannedIndex uint32

	dense      []uint32
	membership map[uint32]int // entityID -> index in dense

	populated bool

	tick         uint64
	addedCache   []uint32
	removedCache []uint32
	changedCache []uint32
}

func (qi *QueryInstance) addToDense(id uint32) {
	if _, ok := qi.membership[id]; ok {
		return
	}
	qi.membership[id] = len(qi.dense)
	qi.dense = append(qi.dense, id)
}

func (qi *QueryInstance) removeFromDense(id uint32) {
	idx, ok := qi.membership[id]
	if !ok {
		return
	}
	last := len(qi.dense) - 1
	lastID := qi.dense[last]
	qi.dense[idx] = lastID
	qi.dense = qi.dense[:last]
	delete(qi.membership, id)
	if idx < last {
		qi.membership[lastID] = idx
	}
}

// ensurePopulated performs the first-use full scan of live entities.
func (qi *QueryInstance) ensurePopulated() {
	if qi.populated {
		return
	}
	eb := qi.query.world.entityBuffer
	for id := uint32(0); id < eb.MaxEntities(); id++ {
		if eb.Has(id) && qi.query.matchesEntity(id) {
			qi.addToDense(id)
		}
	}
	qi.populated = true
}

// advance consumes events in [lastScannedIndex, currentIndex) and
// incrementally updates the dense membership cache and the
// added/removed/changed per-tick caches. tick identifies the current
// World/subscriber tick for memoization purposes.
func (qi *QueryInstance) advance(tick uint64) (added, removed, changed []uint32) {
	eb := qi.query.world.entityBuffer
	eventBuffer := qi.query.world.eventBuffer

	structural := EventAdded | EventComponentAdded | EventComponentRemoved | EventRemoved
	affected, newIndex := eventBuffer.CollectEntitiesInRange(qi.lastScannedIndex, structural, nil)

	var addedSet, removedSet map[uint32]struct{}
	if len(affected) > 0 {
		addedSet = make(map[uint32]struct{})
		removedSet = make(map[uint32]struct{})
		for id := range affected {
			_, wasIn := qi.membership[id]
			live := eb.Has(id)
			nowIn := live && qi.query.matchesEntity(id)
			switch {
			case nowIn && !wasIn:
				qi.addToDense(id)
				addedSet[id] = struct{}{}
			case !nowIn && wasIn:
				qi.removeFromDense(id)
				removedSet[id] = struct{}{}
			}
		}
	}

	var changedSet map[uint32]struct{}
	if qi.query.trackingMask != nil && !qi.query.trackingMask.isEmpty() {
		changedSet, _ = eventBuffer.CollectEntitiesInRange(qi.lastScannedIndex, EventChanged, qi.query.trackingMask)
	}

	// The first-use scan runs after the event pass, so entities that entered
	// the match set inside this reader's window are reported as added.
	qi.ensurePopulated()
	qi.lastScannedIndex = newIndex

	added = setToSlice(addedSet)
	removed = setToSlice(removedSet)
	changed = setToSlice(changedSet)

	qi.tick = tick
	qi.addedCache = added
	qi.removedCache = removed
	qi.changedCache = changed
	return
}

// currentTick reads the owning World's tick counter, the memoization key for
// this reader's added/removed/changed results.
func (qi *QueryInstance) currentTick() uint64 {
	return qi.query.world.tick.Load()
}

// refresh advances the reader if the World has ticked since this reader's
// last computation, so repeated calls within one tick are idempotent.
func (qi *QueryInstance) refresh() {
	if tick := qi.currentTick(); qi.tick != tick {
		qi.advance(tick)
	}
}

func setToSlice(m map[uint32]struct{}) []uint32 {
	if len(m) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// Current returns the dense set of entity IDs currently matching the query.
// On first use it performs a full scan of live entities; subsequently it is
// maintained incrementally from the event log.
func (qi *QueryInstance) Current() []uint32 {
	qi.refresh()
	qi.ensurePopulated()
	out := make([]uint32, len(qi.dense))
	copy(out, qi.dense)
	return out
}

// Added returns entity IDs that entered the match set since this reader's
// last call, memoized per tick.
func (qi *QueryInstance) Added() []uint32 {
	qi.refresh()
	return qi.addedCache
}

// Removed returns entity IDs that left the match set since this reader's
// last call, memoized per tick. An entity marked dead but not yet reclaimed
// is reported here even though Current() no longer includes it.
func (qi *QueryInstance) Removed() []uint32 {
	qi.refresh()
	return qi.removedCache
}

// Changed returns entity IDs whose tracked components emitted CHANGED since
// this reader's last call, memoized per tick.
func (qi *QueryInstance) Changed() []uint32 {
	qi.refresh()
	return qi.changedCache
}

// Has reports whether id is currently in the match set (O(1) via the dense
// reverse index).
func (qi *QueryInstance) Has(id uint32) bool {
	qi.ensurePopulated()
	_, ok := qi.membership[id]
	return ok
}

// ChangedSingleton reports whether the singleton sentinel entity appears in
// this reader's Changed() set for the current tick.
func (qi *QueryInstance) ChangedSingleton() bool {
	for _, id := range qi.Changed() {
		if id == SingletonEntity {
			return true
		}
	}
	return false
}

package ecs

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// EventType is a bitmask flag identifying what happened to an entity or
// component. Bitmask-typed (rather than a plain enum) so collectEntitiesInRange
// can filter on an OR'd combination in one pass.
type EventType uint8

const (
	EventAdded EventType = 1 << iota
	EventRemoved
	EventChanged
	EventComponentAdded
	EventComponentRemoved
)

// SingletonEntity is the reserved sentinel entity ID singleton components'
// events are pushed under.
const SingletonEntity uint32 = 0xFFFFFFFF

// eventRecord packs the 8-byte event record — entityId (u32 LE), eventType
// (u8), padding (u8), componentId (u16 LE) — into a single atomic.Uint64
// word so one atomic store publishes the whole record instead of racing
// across several atomic fields. On a little-endian machine the packed word's
// byte image matches the wire layout exactly; see encodeEvent/decodeEvent.
type eventRecord = atomic.Uint64

func encodeEvent(entityID uint32, eventType EventType, componentID uint16) uint64 {
	return uint64(entityID) |
		uint64(eventType)<<32 |
		uint64(componentID)<<48
}

func decodeEvent(packed uint64) (entityID uint32, eventType EventType, componentID uint16) {
	entityID = uint32(packed)
	eventType = EventType(packed >> 32)
	componentID = uint16(packed >> 48)
	return
}

// Event is a decoded ring-buffer record, used by debug reads and tests.
type Event struct {
	EntityID    uint32
	Type        EventType
	ComponentID uint16
}

// EventBuffer is a lock-free ring buffer of maxEvents event records plus a
// monotonic write index. Writers fetch-and-add the index and store their
// record into the resulting slot, overwriting the oldest entry on wraparound.
// Readers compare their own last-scanned index against the current write
// index to discover how much history they can still see.
type EventBuffer struct {
	records    []eventRecord
	writeIndex atomic.Uint32
	maxEvents  uint32
	logger     *logrus.Entry

	// overflows counts reader-lagged clamps, observable via OverflowCount.
	overflows atomic.Uint32
}

// NewEventBuffer allocates a ring buffer with room for maxEvents records.
func NewEventBuffer(maxEvents uint32, logger *logrus.Entry) *EventBuffer {
	return &EventBuffer{
		records:   make([]eventRecord, maxEvents),
		maxEvents: maxEvents,
		logger:    logger,
	}
}

// Push records one event and returns the index it was written at.
func (e *EventBuffer) Push(entityID uint32, eventType EventType, componentID uint16) uint32 {
	idx := e.writeIndex.Add(1) - 1
	slot := idx % e.maxEvents
	e.records[slot].Store(encodeEvent(entityID, eventType, componentID))
	return idx
}

// PushAdded records an ADDED event.
func (e *EventBuffer) PushAdded(entityID uint32) uint32 {
	return e.Push(entityID, EventAdded, 0)
}

// PushRemoved records a REMOVED event.
func (e *EventBuffer) PushRemoved(entityID uint32) uint32 {
	return e.Push(entityID, EventRemoved, 0)
}

// PushChanged records a CHANGED event for componentID on entityID.
func (e *EventBuffer) PushChanged(entityID uint32, componentID uint16) uint32 {
	return e.Push(entityID, EventChanged, componentID)
}

// PushComponentAdded records a COMPONENT_ADDED event.
func (e *EventBuffer) PushComponentAdded(entityID uint32, componentID uint16) uint32 {
	return e.Push(entityID, EventComponentAdded, componentID)
}

// PushComponentRemoved records a COMPONENT_REMOVED event.
func (e *EventBuffer) PushComponentRemoved(entityID uint32, componentID uint16) uint32 {
	return e.Push(entityID, EventComponentRemoved, componentID)
}

// ReadEvent decodes the record currently stored at ring index i (i.e.
// i % maxEvents, whatever generation most recently wrote there).
func (e *EventBuffer) ReadEvent(i uint32) Event {
	entityID, eventType, componentID := decodeEvent(e.records[i%e.maxEvents].Load())
	return Event{EntityID: entityID, Type: eventType, ComponentID: componentID}
}

// GetWriteIndex returns the current monotonic write index.
func (e *EventBuffer) GetWriteIndex() uint32 {
	return e.writeIndex.Load()
}

// OverflowCount returns how many times a lagged reader's range has been
// clamped to the ring's capacity.
func (e *EventBuffer) OverflowCount() uint32 {
	return e.overflows.Load()
}

// CollectEntitiesInRange scans events in [lastIndex, current), filters by
// eventTypeMask, optionally filters CHANGED events by componentMask (nil
// disables the filter), deduplicates entity IDs, and returns the resulting
// set together with the new index the caller should remember as lastIndex
// for its next call.
//
// If the caller has fallen more than maxEvents behind, the unreadable
// history is skipped: lastIndex is clamped to current-maxEvents and a single
// EventOverflowWarning is logged.
func (e *EventBuffer) CollectEntitiesInRange(lastIndex uint32, eventTypeMask EventType, componentMask *bitsetMask) (map[uint32]struct{}, uint32) {
	current := e.writeIndex.Load()
	if current < lastIndex {
		// writeIndex wrapped around uint32; treat as no new events rather
		// than underflowing the range below.
		return map[uint32]struct{}{}, current
	}
	if current-lastIndex > e.maxEvents {
		e.overflows.Add(1)
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"lastIndex": lastIndex,
				"current":   current,
				"maxEvents": e.maxEvents,
			}).Warn("missed events: reader lagged past ring buffer capacity")
		}
		lastIndex = current - e.maxEvents
	}

	result := make(map[uint32]struct{})
	for i := lastIndex; i < current; i++ {
		entityID, eventType, componentID := decodeEvent(e.records[i%e.maxEvents].Load())
		if eventType&eventTypeMask == 0 {
			continue
		}
		if eventType == EventChanged && componentMask != nil && !componentMask.test(uint32(componentID)) {
			continue
		}
		result[entityID] = struct{}{}
	}
	return result, current
}

// ReadEvents returns every event in [lastIndex, current) in order, for
// debugging/tests. Unlike CollectEntitiesInRange it does not deduplicate or
// filter, and it clamps a lagged reader to the last maxEvents records
// silently, without counting an overflow or logging a warning.
func (e *EventBuffer) ReadEvents(lastIndex uint32) ([]Event, uint32) {
	current := e.writeIndex.Load()
	if current < lastIndex {
		return nil, current
	}
	if current-lastIndex > e.maxEvents {
		lastIndex = current - e.maxEvents
	}
	events := make([]Event, 0, current-lastIndex)
	for i := lastIndex; i < current; i++ {
		events = append(events, e.ReadEvent(i))
	}
	return events, current
}

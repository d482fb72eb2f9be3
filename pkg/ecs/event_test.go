package ecs

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventBuffer(maxEvents uint32) (*EventBuffer, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewEventBuffer(maxEvents, logger.WithField("world", "test")), hook
}

func TestEventRecordLayout(t *testing.T) {
	packed := encodeEvent(0x01020304, EventChanged, 0x0A0B)
	entityID, eventType, componentID := decodeEvent(packed)
	assert.Equal(t, uint32(0x01020304), entityID)
	assert.Equal(t, EventChanged, eventType)
	assert.Equal(t, uint16(0x0A0B), componentID)
}

func TestEventBufferPushAndRead(t *testing.T) {
	eb, _ := newTestEventBuffer(8)

	idx := eb.PushAdded(1)
	assert.Equal(t, uint32(0), idx)
	idx = eb.PushChanged(2, 5)
	assert.Equal(t, uint32(1), idx)
	eb.PushComponentAdded(3, 6)
	eb.PushComponentRemoved(3, 6)
	eb.PushRemoved(1)

	assert.Equal(t, uint32(5), eb.GetWriteIndex())

	assert.Equal(t, Event{EntityID: 1, Type: EventAdded}, eb.ReadEvent(0))
	assert.Equal(t, Event{EntityID: 2, Type: EventChanged, ComponentID: 5}, eb.ReadEvent(1))
	assert.Equal(t, Event{EntityID: 3, Type: EventComponentAdded, ComponentID: 6}, eb.ReadEvent(2))
	assert.Equal(t, Event{EntityID: 3, Type: EventComponentRemoved, ComponentID: 6}, eb.ReadEvent(3))
	assert.Equal(t, Event{EntityID: 1, Type: EventRemoved}, eb.ReadEvent(4))
}

func TestEventBufferWrapAround(t *testing.T) {
	eb, _ := newTestEventBuffer(4)

	for id := uint32(1); id <= 6; id++ {
		eb.PushAdded(id)
	}
	// Slots hold the last 4 events; indices 4 and 5 overwrote 0 and 1.
	assert.Equal(t, uint32(5), eb.ReadEvent(0).EntityID)
	assert.Equal(t, uint32(6), eb.ReadEvent(1).EntityID)
	assert.Equal(t, uint32(3), eb.ReadEvent(2).EntityID)
	assert.Equal(t, uint32(4), eb.ReadEvent(3).EntityID)
}

func TestCollectEntitiesInRangeFiltersAndDedupes(t *testing.T) {
	eb, _ := newTestEventBuffer(16)

	eb.PushAdded(1)
	eb.PushAdded(2)
	eb.PushChanged(1, 0)
	eb.PushChanged(1, 0) // duplicate entity
	eb.PushRemoved(2)

	ids, next := eb.CollectEntitiesInRange(0, EventAdded, nil)
	assert.Equal(t, uint32(5), next)
	assert.Equal(t, map[uint32]struct{}{1: {}, 2: {}}, ids)

	ids, _ = eb.CollectEntitiesInRange(0, EventChanged, nil)
	assert.Equal(t, map[uint32]struct{}{1: {}}, ids, "duplicate CHANGED events dedupe to one id")

	ids, _ = eb.CollectEntitiesInRange(0, EventAdded|EventRemoved, nil)
	assert.Len(t, ids, 2)

	// Resuming from next sees nothing new.
	ids, next2 := eb.CollectEntitiesInRange(next, EventAdded|EventRemoved|EventChanged, nil)
	assert.Empty(t, ids)
	assert.Equal(t, next, next2)
}

func TestCollectEntitiesInRangeComponentMask(t *testing.T) {
	eb, _ := newTestEventBuffer(16)

	eb.PushChanged(1, 0)
	eb.PushChanged(2, 3)
	eb.PushChanged(3, 7)

	mask := newBitsetMask(8)
	mask.set(3)
	ids, _ := eb.CollectEntitiesInRange(0, EventChanged, mask)
	assert.Equal(t, map[uint32]struct{}{2: {}}, ids, "componentMask must filter CHANGED events by component bit")
}

func TestCollectEntitiesInRangeOverflow(t *testing.T) {
	eb, hook := newTestEventBuffer(4)

	// Six ADDED events through a 4-slot ring; a reader starting at 0 can
	// only observe the last four.
	for id := uint32(1); id <= 6; id++ {
		eb.PushAdded(id)
	}

	ids, next := eb.CollectEntitiesInRange(0, EventAdded, nil)
	assert.Equal(t, uint32(6), next)
	assert.Equal(t, map[uint32]struct{}{3: {}, 4: {}, 5: {}, 6: {}}, ids)

	assert.Equal(t, uint32(1), eb.OverflowCount())
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "missed events")
}

func TestReadEventsDebug(t *testing.T) {
	eb, _ := newTestEventBuffer(8)
	eb.PushAdded(1)
	eb.PushChanged(1, 2)

	events, next := eb.ReadEvents(0)
	require.Len(t, events, 2)
	assert.Equal(t, uint32(2), next)
	assert.Equal(t, EventAdded, events[0].Type)
	assert.Equal(t, EventChanged, events[1].Type)
}

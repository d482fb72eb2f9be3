package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestComponent(t *testing.T, def *ComponentDef, maxEntities uint32) (*Component, *EventBuffer, *EntityBuffer) {
	t.Helper()
	eb, _ := newTestEventBuffer(64)
	entities := NewEntityBuffer(maxEntities, 8)
	comp, err := newComponent(0, def, maxEntities, eb, entities)
	require.NoError(t, err)
	return comp, eb, entities
}

func shapeDef() *ComponentDef {
	return &ComponentDef{
		Name: "shape",
		Schema: Schema{
			{Name: "x", Field: Number(F32)},
			{Name: "y", Field: Number(F32).Default(float32(10))},
			{Name: "label", Field: String().Max(8).Default("box")},
			{Name: "visible", Field: Boolean().Default(true)},
		},
	}
}

func TestComponentCopyFillsDefaultsOnFirstCopy(t *testing.T) {
	comp, _, entities := newTestComponent(t, shapeDef(), 16)
	entities.Create(1)

	comp.Copy(1, map[string]any{"x": float32(5)})

	r := comp.Read(1)
	assert.Equal(t, float32(5), r.Get("x"))
	assert.Equal(t, float32(10), r.Get("y"), "missing fields fill from defaults on first copy")
	assert.Equal(t, "box", r.Get("label"))
	assert.Equal(t, true, r.Get("visible"))
}

func TestComponentCopyPartialSecondTime(t *testing.T) {
	comp, _, entities := newTestComponent(t, shapeDef(), 16)
	entities.Create(1)

	comp.Copy(1, map[string]any{"x": float32(1), "label": "circle"})
	comp.Copy(1, map[string]any{"x": float32(2)})

	r := comp.Read(1)
	assert.Equal(t, float32(2), r.Get("x"))
	assert.Equal(t, "circle", r.Get("label"), "second copy must not reset untouched fields to defaults")
}

func TestComponentWriteEmitsOneChangedPerAcquisition(t *testing.T) {
	comp, eb, entities := newTestComponent(t, shapeDef(), 16)
	entities.Create(1)

	before := eb.GetWriteIndex()
	w := comp.Write(1)
	w.Set("x", float32(1)).Set("y", float32(2)).Set("label", "dot")
	assert.Equal(t, before+1, eb.GetWriteIndex(), "one CHANGED per Write acquisition, not per setter")

	ev := eb.ReadEvent(before)
	assert.Equal(t, EventChanged, ev.Type)
	assert.Equal(t, uint32(1), ev.EntityID)
	assert.Equal(t, uint16(0), ev.ComponentID)

	r := comp.Read(1)
	assert.Equal(t, float32(1), r.Get("x"))
	assert.Equal(t, float32(2), r.Get("y"))
	assert.Equal(t, "dot", r.Get("label"))
}

func TestComponentSnapshotIsDetached(t *testing.T) {
	comp, _, entities := newTestComponent(t, shapeDef(), 16)
	entities.Create(1)
	comp.Copy(1, map[string]any{"x": float32(7), "label": "old"})

	snap := comp.Snapshot(1)
	comp.Write(1).Set("x", float32(9)).Set("label", "new")

	assert.Equal(t, float32(7), snap["x"], "snapshot must not alias live columns")
	assert.Equal(t, "old", snap["label"])
}

func TestSingletonUsesSlotZeroAndSentinelEvents(t *testing.T) {
	def := &ComponentDef{
		Name:      "mouse",
		Singleton: true,
		Schema: Schema{
			{Name: "x", Field: Number(F32)},
			{Name: "y", Field: Number(F32)},
		},
	}
	comp, eb, _ := newTestComponent(t, def, 16)

	before := eb.GetWriteIndex()
	comp.Write(42).Set("x", float32(3)) // any entity id resolves to the single slot

	ev := eb.ReadEvent(before)
	assert.Equal(t, SingletonEntity, ev.EntityID, "singleton events use the sentinel entity id")

	assert.Equal(t, float32(3), comp.Read(SingletonEntity).Get("x"))
	assert.Equal(t, float32(3), comp.Read(0).Get("x"), "every id reads the same singleton slot")
}

func TestComponentRefFieldPacksGeneration(t *testing.T) {
	def := &ComponentDef{
		Name:   "link",
		Schema: Schema{{Name: "target", Field: Ref()}},
	}
	comp, _, entities := newTestComponent(t, def, 16)
	entities.Create(1)
	entities.Create(2)

	comp.Copy(1, map[string]any{"target": uint32(2)})
	assert.Equal(t, uint32(2), comp.Read(1).Get("target"))

	// Raw column word carries the target's generation at write time.
	packed := comp.fields[0].handler.(*refHandler).col.words[1].Load()
	id, gen := UnpackRef(packed)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, entities.GetGeneration(2), gen)
}

func TestComponentRefSelfNullifiesOnStaleRead(t *testing.T) {
	def := &ComponentDef{
		Name:   "link",
		Schema: Schema{{Name: "target", Field: Ref()}},
	}
	comp, _, entities := newTestComponent(t, def, 16)
	entities.Create(1)
	entities.Create(2)
	comp.Copy(1, map[string]any{"target": uint32(2)})

	entities.MarkDead(2)
	assert.Nil(t, comp.Read(1).Get("target"), "ref to a dead entity reads null")

	col := comp.fields[0].handler.(*refHandler).col
	assert.Equal(t, NullRef, col.words[1].Load(), "stale ref is atomically replaced with the null sentinel")

	// A recycled slot with a different generation is equally stale.
	entities.Delete(2)
	entities.Create(2)
	comp.Copy(3, nil) // unrelated slot, does not disturb entity 1
	assert.Nil(t, comp.Read(1).Get("target"))
}

func TestComponentCopyTypedSliceRoundTrip(t *testing.T) {
	def := &ComponentDef{
		Name: "stroke",
		Schema: Schema{
			{Name: "points", Field: Array(Number(F32), 8)},
			{Name: "size", Field: Tuple(Number(F64), 2)},
		},
	}
	comp, _, entities := newTestComponent(t, def, 16)
	entities.Create(1)

	comp.Copy(1, map[string]any{
		"points": []float32{1, 2, 3},
		"size":   []float64{4, 5},
	})

	snap := comp.Snapshot(1)
	assert.Equal(t, []any{float32(1), float32(2), float32(3)}, snap["points"])
	assert.Equal(t, []any{4.0, 5.0}, snap["size"])
}

func TestComponentUnknownField(t *testing.T) {
	comp, _, entities := newTestComponent(t, shapeDef(), 16)
	entities.Create(1)

	assert.Nil(t, comp.Read(1).Get("nope"))
	comp.Write(1).Set("nope", 1) // silently ignored
}

func TestComponentRegistrationMetadata(t *testing.T) {
	comp, _, _ := newTestComponent(t, shapeDef(), 16)
	assert.Equal(t, uint32(0), comp.ID())
	assert.Equal(t, "shape", comp.Name())
	assert.False(t, comp.IsSingleton())
}

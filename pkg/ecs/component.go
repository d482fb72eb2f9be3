package ecs

import "sync/atomic"

// fieldBinding pairs a named schema field with the concrete column handler
// backing it, plus enough metadata (kind) for Component to special-case ref
// packing/unpacking without every call site needing to know about it.
type fieldBinding struct {
	name    string
	kind    FieldKind
	handler fieldHandler
}

// Component is a realized component instance: a dense componentId, one
// shared column per schema field, and the field handlers needed to
// read/write/snapshot entity data. It is produced by registering a
// ComponentDef with a World; the columnar layout is fixed thereafter.
type Component struct {
	id           uint32
	name         string
	singleton    bool
	maxEntities  uint32
	fields       []fieldBinding
	fieldIndex   map[string]int
	eventBuffer  *EventBuffer
	entityBuffer *EntityBuffer
	// initialized tracks, per slot, whether Copy has ever populated it —
	// this is what "on first copy, fill missing fields with defaults" keys
	// off, kept separate from EntityBuffer's membership bitmap so Copy's
	// behavior does not depend on whether World.AddComponent has already
	// flipped the membership bit by the time Copy runs.
	initialized []atomic.Bool
}

// newComponent realizes def as a component instance bound to componentID,
// allocating one column per field over capacity entities (1 for
// singletons).
func newComponent(componentID uint32, def *ComponentDef, maxEntities uint32, eventBuffer *EventBuffer, entityBuffer *EntityBuffer) (*Component, error) {
	capacity := maxEntities
	if def.Singleton {
		capacity = 1
	}
	c := &Component{
		id:           componentID,
		name:         def.Name,
		singleton:    def.Singleton,
		maxEntities:  maxEntities,
		fieldIndex:   make(map[string]int, len(def.Schema)),
		eventBuffer:  eventBuffer,
		entityBuffer: entityBuffer,
		initialized:  make([]atomic.Bool, capacity),
	}
	for _, spec := range def.Schema {
		handler, err := newFieldHandler(spec.Field, capacity)
		if err != nil {
			return nil, err
		}
		if ref, ok := handler.(*refHandler); ok {
			ref.validate = c.validateRef
		}
		c.fieldIndex[spec.Name] = len(c.fields)
		c.fields = append(c.fields, fieldBinding{name: spec.Name, kind: spec.Field.Kind, handler: handler})
	}
	return c, nil
}

// ID returns the dense componentId assigned at registration.
func (c *Component) ID() uint32 { return c.id }

// Name returns the component's registered name.
func (c *Component) Name() string { return c.name }

// IsSingleton reports whether this component was registered as a singleton.
func (c *Component) IsSingleton() bool { return c.singleton }

// slot maps a caller-provided entity ID to a column index. Singleton
// components always resolve to slot 0 regardless of which entity ID (or the
// SingletonEntity sentinel) the caller passes.
func (c *Component) slot(entityID uint32) uint32 {
	if c.singleton {
		return 0
	}
	return entityID
}

// eventEntityID is the entity ID events for this component should be pushed
// under: the reserved sentinel for singletons, the caller's entity ID
// otherwise.
func (c *Component) eventEntityID(entityID uint32) uint32 {
	if c.singleton {
		return SingletonEntity
	}
	return entityID
}

func (c *Component) validateRef(packed uint32) uint32 {
	if packed == NullRef {
		return NullRef
	}
	target, gen := UnpackRef(packed)
	if target >= c.maxEntities || !c.entityBuffer.Has(target) || c.entityBuffer.GetGeneration(target) != gen {
		return NullRef
	}
	return packed
}

// resolveSetValue translates a caller-facing value into the form a field
// handler stores. Ref fields are the only kind needing translation: callers
// pass either nil or a target entity ID, and Component packs it with the
// target's current generation (handlers never see entityBuffer directly).
func (c *Component) resolveSetValue(kind FieldKind, value any) any {
	if kind != KindRef || value == nil {
		return value
	}
	targetID, ok := value.(uint32)
	if !ok {
		return nil
	}
	return PackRef(targetID, c.entityBuffer.GetGeneration(targetID))
}

func (c *Component) pushChanged(entityID uint32) {
	c.eventBuffer.PushChanged(c.eventEntityID(entityID), uint16(c.id))
}

// ReadView is a readonly handle over one entity's (or the singleton's)
// column values for this component.
type ReadView struct {
	c    *Component
	slot uint32
}

// Get returns the current value of field on the viewed entity.
func (v *ReadView) Get(field string) any {
	i, ok := v.c.fieldIndex[field]
	if !ok {
		return nil
	}
	return v.c.fields[i].handler.get(v.slot)
}

// Read returns a readonly view over entityID's fields for this component.
// Reading a component an entity does not have returns stale or default data;
// it is a client contract violation, not a runtime error.
func (c *Component) Read(entityID uint32) *ReadView {
	return &ReadView{c: c, slot: c.slot(entityID)}
}

// WriteView is a writable handle over one entity's column values for this
// component. Acquiring one (via Component.Write) emits CHANGED immediately:
// one event per handle, not one per Set call.
type WriteView struct {
	c    *Component
	slot uint32
}

// Set writes field's value and returns the view for chaining.
func (v *WriteView) Set(field string, value any) *WriteView {
	i, ok := v.c.fieldIndex[field]
	if !ok {
		return v
	}
	binding := v.c.fields[i]
	binding.handler.set(v.slot, v.c.resolveSetValue(binding.kind, value))
	return v
}

// Write returns a writable view over entityID's fields for this component
// and emits one CHANGED event for the acquisition.
func (c *Component) Write(entityID uint32) *WriteView {
	c.pushChanged(entityID)
	return &WriteView{c: c, slot: c.slot(entityID)}
}

// Snapshot deep-copies entityID's current field values into a plain map safe
// to retain past the current tick.
func (c *Component) Snapshot(entityID uint32) map[string]any {
	slot := c.slot(entityID)
	out := make(map[string]any, len(c.fields))
	for _, fb := range c.fields {
		out[fb.name] = fb.handler.get(slot)
	}
	return out
}

// Copy writes partial into entityID's slot. On the slot's first copy,
// fields absent from partial are filled with their schema defaults;
// otherwise absent fields keep their current stored value. Either way,
// Copy emits one CHANGED event.
func (c *Component) Copy(entityID uint32, partial map[string]any) {
	slot := c.slot(entityID)
	first := !c.initialized[slot].Load()
	for _, fb := range c.fields {
		value, has := partial[fb.name]
		switch {
		case has:
			fb.handler.set(slot, c.resolveSetValue(fb.kind, value))
		case first:
			fb.handler.init(slot, nil, false)
		}
	}
	c.initialized[slot].Store(true)
	c.pushChanged(entityID)
}

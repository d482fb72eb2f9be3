package ecs

// Context is the handle a system body receives on every dispatch: entity and
// component operations, query binding, and (for worker systems) this
// goroutine's slice of the work via ThreadIndex/ThreadCount. Nothing needs
// copying across a thread boundary; ctx.world points at the same World a
// main-thread system sees.
type Context struct {
	world       *World
	readerID    string
	threadIndex int
	threadCount int
}

// CreateEntity allocates a new entity ID and returns it.
func (c *Context) CreateEntity() (uint32, error) { return c.world.CreateEntity() }

// RemoveEntity marks id for reclamation; it remains visible to in-flight
// queries as a REMOVED member until an Execute reclamation sweep finds that
// every executed system has observed the REMOVED event.
func (c *Context) RemoveEntity(id uint32) { c.world.RemoveEntity(id) }

// AddComponent registers def on entity id with the given field values,
// filling schema defaults for fields first written.
func (c *Context) AddComponent(def *ComponentDef, id uint32, values map[string]any) error {
	return c.world.AddComponent(def, id, values)
}

// RemoveComponent clears def's membership bit for entity id.
func (c *Context) RemoveComponent(def *ComponentDef, id uint32) error {
	return c.world.RemoveComponent(def, id)
}

// HasComponent reports whether entity id currently has def.
func (c *Context) HasComponent(def *ComponentDef, id uint32) (bool, error) {
	return c.world.HasComponent(def, id)
}

// GetBackrefs returns the entities whose ref field named fieldName on def
// currently points at target.
func (c *Context) GetBackrefs(def *ComponentDef, fieldName string, target uint32) ([]uint32, error) {
	return c.world.GetBackrefs(def, fieldName, target)
}

// Component resolves def to its realized *Component for direct
// Read/Write/Snapshot/Copy access.
func (c *Context) Component(def *ComponentDef) (*Component, error) {
	return c.world.component(def)
}

// Query binds q to this context's reader identity, creating its per-reader
// state on first use.
func (c *Context) Query(q *Query) *QueryInstance {
	return q.instanceFor(c.readerID, c.world.eventBuffer.GetWriteIndex())
}

// Resources returns the opaque value passed as WorldOptions.Resources.
func (c *Context) Resources() any { return c.world.resources }

// ThreadIndex returns this goroutine's position, in [0, ThreadCount), within
// its worker system's pool. Main-thread systems always see (0, 1).
func (c *Context) ThreadIndex() int { return c.threadIndex }

// ThreadCount returns the worker system's configured thread count. Main
// systems always see 1.
func (c *Context) ThreadCount() int { return c.threadCount }

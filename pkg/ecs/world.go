package ecs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/willh0lt/woven-canvas/internal/logging"
)

// Defaults applied when a WorldOptions field is left at its zero value.
const (
	defaultMaxEntities   = 10_000
	defaultMaxEvents     = 131_072
	defaultMaxComponents = 256
)

var worldSeq atomic.Uint64

// WorldOptions configures a new World. Every field is optional.
type WorldOptions struct {
	// Threads defaults to GOMAXPROCS when zero or negative. NewWorld does not
	// store it and nothing else reads it: each worker system's goroutine
	// count is its own System.Threads.
	Threads int
	// MaxEntities bounds the live entity ID space; default 10,000.
	MaxEntities uint32
	// MaxEvents sizes the event ring buffer; default 131,072.
	MaxEvents uint32
	// MaxComponents bounds how many distinct components may ever be
	// registered with this World, fixing the membership bitmap's width up
	// front; default 256.
	MaxComponents uint32
	// Resources is an opaque value surfaced to systems via Context.Resources.
	Resources any
	// Logger receives structured World/WorkerManager log output. A default
	// logrus.Logger is used if nil.
	Logger *logrus.Logger
	// Metrics, if non-nil, enables Prometheus instrumentation registered
	// against it. Nil disables all instrumentation.
	Metrics prometheus.Registerer
}

// World owns every entity, component, and event stream in one ECS instance,
// and drives the per-tick Execute/Sync cycle.
type World struct {
	id uint64

	pool         *Pool
	entityBuffer *EntityBuffer
	eventBuffer  *EventBuffer
	workerMgr    *WorkerManager

	resources any
	logger    *logrus.Entry
	metrics   *metrics

	mu             sync.RWMutex
	components     map[*ComponentDef]*Component
	componentCount uint32
	maxComponents  uint32
	maxEntities    uint32

	tick atomic.Uint64

	// reclaimIndex is the event index up to which reclamation has already
	// swept; Execute only scans forward of it.
	reclaimIndex uint32

	subMu       sync.Mutex
	subscribers []*subscription
	subSeq      int
	nextSyncFns []func()
}

type subscription struct {
	readerID string
	instance *QueryInstance
	callback func(added, removed, changed []uint32)
}

// NewWorld constructs a World ready for component registration.
func NewWorld(opts WorldOptions) *World {
	if opts.Threads <= 0 {
		opts.Threads = runtime.GOMAXPROCS(0)
	}
	maxEntities := opts.MaxEntities
	if maxEntities == 0 {
		maxEntities = defaultMaxEntities
	}
	maxEvents := opts.MaxEvents
	if maxEvents == 0 {
		maxEvents = defaultMaxEvents
	}
	maxComponents := opts.MaxComponents
	if maxComponents == 0 {
		maxComponents = defaultMaxComponents
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.DefaultConfig())
	}
	id := worldSeq.Add(1)
	entry := logging.WorldLogger(logger, id)

	w := &World{
		id:            id,
		resources:     opts.Resources,
		logger:        entry,
		metrics:       newMetrics(opts.Metrics),
		components:    make(map[*ComponentDef]*Component),
		maxComponents: maxComponents,
		maxEntities:   maxEntities,
	}
	w.pool = NewPool(maxEntities)
	w.entityBuffer = NewEntityBuffer(maxEntities, maxComponents)
	w.eventBuffer = NewEventBuffer(maxEvents, entry)
	w.workerMgr = newWorkerManager(w, entry)
	return w
}

func (w *World) readerPrefix() string { return fmt.Sprintf("world_%d", w.id) }

// RegisterComponent realizes def as a *Component bound to the next dense
// componentId. Registering the same def twice, or exceeding MaxComponents,
// is an error.
func (w *World) RegisterComponent(def *ComponentDef) (*Component, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.components[def]; ok {
		return nil, ErrAlreadyInitialized
	}
	if w.componentCount >= w.maxComponents {
		return nil, ErrTooManyComponents
	}
	id := w.componentCount
	comp, err := newComponent(id, def, w.maxEntities, w.eventBuffer, w.entityBuffer)
	if err != nil {
		return nil, err
	}
	w.componentCount++
	w.components[def] = comp
	return comp, nil
}

func (w *World) component(def *ComponentDef) (*Component, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.components[def]
	if !ok {
		return nil, ErrNotRegistered
	}
	return c, nil
}

// NewQuery builds a Query over this World's registered components.
func (w *World) NewQuery(opts QueryOptions) (*Query, error) {
	return newQuery(w, opts)
}

// CreateEntity allocates and marks live a new entity ID, pushing ADDED.
func (w *World) CreateEntity() (uint32, error) {
	id, err := w.pool.Get()
	if err != nil {
		return 0, err
	}
	w.entityBuffer.Create(id)
	w.eventBuffer.PushAdded(id)
	w.metrics.incEventsPushed()
	return id, nil
}

// RemoveEntity marks id dead and pushes REMOVED. The slot is not returned to
// the pool until the next Execute's reclamation sweep confirms every system
// has observed the REMOVED event.
func (w *World) RemoveEntity(id uint32) {
	if !w.entityBuffer.Has(id) {
		return
	}
	w.entityBuffer.MarkDead(id)
	w.eventBuffer.PushRemoved(id)
	w.metrics.incEventsPushed()
}

// AddComponent sets id's membership bit for def, copies values into its
// columns (filling schema defaults on first write), and pushes
// COMPONENT_ADDED, in that order.
func (w *World) AddComponent(def *ComponentDef, id uint32, values map[string]any) error {
	comp, err := w.component(def)
	if err != nil {
		return err
	}
	if comp.IsSingleton() {
		return newComponentError(ErrSingletonMisuse, comp.Name(), id)
	}
	if !w.entityBuffer.Has(id) {
		return newComponentError(ErrEntityDoesNotExist, comp.Name(), id)
	}
	w.entityBuffer.AddComponentToEntity(id, comp.ID())
	comp.Copy(id, values)
	w.eventBuffer.PushComponentAdded(comp.eventEntityID(id), uint16(comp.ID()))
	w.metrics.incEventsPushed()
	return nil
}

// RemoveComponent clears id's membership bit for def and pushes
// COMPONENT_REMOVED. Fails if id is not live. Singleton components cannot be
// removed.
func (w *World) RemoveComponent(def *ComponentDef, id uint32) error {
	comp, err := w.component(def)
	if err != nil {
		return err
	}
	if comp.IsSingleton() {
		return newComponentError(ErrSingletonMisuse, comp.Name(), id)
	}
	if !w.entityBuffer.Has(id) {
		return newComponentError(ErrEntityDoesNotExist, comp.Name(), id)
	}
	w.entityBuffer.RemoveComponentFromEntity(id, comp.ID())
	w.eventBuffer.PushComponentRemoved(id, uint16(comp.ID()))
	w.metrics.incEventsPushed()
	return nil
}

// HasComponent reports whether entity id carries def. Fails if id is not
// live. Singletons always report true once registered.
func (w *World) HasComponent(def *ComponentDef, id uint32) (bool, error) {
	comp, err := w.component(def)
	if err != nil {
		return false, err
	}
	if comp.IsSingleton() {
		return true, nil
	}
	if !w.entityBuffer.Has(id) {
		return false, newComponentError(ErrEntityDoesNotExist, comp.Name(), id)
	}
	return w.entityBuffer.HasComponent(id, comp.ID()), nil
}

// GetBackrefs scans every live entity carrying def and returns those whose
// fieldName ref currently resolves to target.
func (w *World) GetBackrefs(def *ComponentDef, fieldName string, target uint32) ([]uint32, error) {
	comp, err := w.component(def)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for id := uint32(0); id < w.maxEntities; id++ {
		if !w.entityBuffer.Has(id) {
			continue
		}
		if !comp.IsSingleton() && !w.entityBuffer.HasComponent(id, comp.ID()) {
			continue
		}
		if ref, ok := comp.Read(id).Get(fieldName).(uint32); ok && ref == target {
			out = append(out, id)
		}
	}
	return out, nil
}

// Execute runs one tick: shifts every system's event-index markers, dispatches
// worker systems in parallel while main systems run sequentially on the
// calling goroutine, joins on the workers, then reclaims entities whose
// REMOVED event every system has now observed at least once.
func (w *World) Execute(ctx context.Context, systems ...*System) error {
	start := time.Now()
	defer func() { w.metrics.observeExecute(time.Since(start)) }()

	w.tick.Add(1)
	currentIndex := w.eventBuffer.GetWriteIndex()

	var mains, workers []*System
	for _, sys := range systems {
		if !sys.seen {
			sys.seen = true
			sys.prevEventIndex = currentIndex
		} else {
			sys.prevEventIndex = sys.currEventIndex
		}
		sys.currEventIndex = currentIndex
		switch sys.Kind {
		case SystemMain:
			mains = append(mains, sys)
		case SystemWorker:
			workers = append(workers, sys)
		}
	}

	sort.SliceStable(workers, func(i, j int) bool { return workers[i].Priority > workers[j].Priority })

	dispatchDone := make(chan error, 1)
	dispatchStart := time.Now()
	go func() { dispatchDone <- w.workerMgr.dispatch(ctx, workers) }()

	for _, sys := range mains {
		mctx := &Context{
			world:       w,
			readerID:    fmt.Sprintf("%s_system_%s", w.readerPrefix(), sys.ID),
			threadIndex: 0,
			threadCount: 1,
		}
		sys.Main(mctx)
	}

	dispatchErr := <-dispatchDone
	w.metrics.observeDispatch(time.Since(dispatchStart))
	if dispatchErr != nil {
		if errors.Is(dispatchErr, ErrWorkerInitTimeout) || errors.Is(dispatchErr, ErrWorkerExecuteTimeout) {
			w.metrics.incWorkerTimeouts()
		}
		w.logger.WithError(dispatchErr).Warn("worker dispatch returned an error")
	}

	w.reclaim(systems, currentIndex)

	return dispatchErr
}

// reclaim frees entity IDs whose REMOVED event every system has now
// processed and that are still dead (not recreated since), returning them to
// the pool. The window's upper bound is the minimum prevEventIndex across
// systems — everything before it has been seen by every system at least once
// — or currentIndex itself when no systems exist (vacuously, nothing is
// still waiting to observe the event). reclaimIndex keeps successive sweeps
// from re-scanning history.
func (w *World) reclaim(systems []*System, currentIndex uint32) {
	upTo := currentIndex
	for _, sys := range systems {
		if sys.prevEventIndex < upTo {
			upTo = sys.prevEventIndex
		}
	}
	start := w.reclaimIndex
	if upTo <= start {
		return
	}
	if upTo-start > w.eventBuffer.maxEvents {
		start = upTo - w.eventBuffer.maxEvents
	}
	w.reclaimIndex = upTo

	seen := make(map[uint32]struct{})
	reclaimed := 0
	for i := start; i < upTo; i++ {
		ev := w.eventBuffer.ReadEvent(i)
		if ev.Type != EventRemoved {
			continue
		}
		if _, ok := seen[ev.EntityID]; ok {
			continue
		}
		seen[ev.EntityID] = struct{}{}
		if !w.entityBuffer.Has(ev.EntityID) {
			w.entityBuffer.Delete(ev.EntityID)
			w.pool.Free(ev.EntityID)
			reclaimed++
		}
	}
	w.metrics.incEntitiesReclaimed(reclaimed)
}

// Subscribe registers callback to fire on Sync whenever q's added, removed,
// or changed sets are non-empty for this reader. The returned func cancels
// the subscription.
func (w *World) Subscribe(q *Query, callback func(added, removed, changed []uint32)) func() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.subSeq++
	readerID := fmt.Sprintf("%s_subscriber_%d", w.readerPrefix(), w.subSeq)
	inst := q.instanceFor(readerID, w.eventBuffer.GetWriteIndex())
	sub := &subscription{readerID: readerID, instance: inst, callback: callback}

	w.subscribers = append(w.subscribers, sub)
	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		for i, s := range w.subscribers {
			if s == sub {
				w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
				break
			}
		}
		q.dropInstance(readerID)
	}
}

// NextSync queues fn to run once, at the start of the next Sync call, before
// any subscriber callbacks fire.
func (w *World) NextSync(fn func()) {
	w.subMu.Lock()
	w.nextSyncFns = append(w.nextSyncFns, fn)
	w.subMu.Unlock()
}

// Sync runs pending NextSync callbacks, then notifies every subscriber whose
// query reports a non-empty added/removed/changed set since its last Sync.
func (w *World) Sync() {
	w.subMu.Lock()
	fns := w.nextSyncFns
	w.nextSyncFns = nil
	subs := make([]*subscription, len(w.subscribers))
	copy(subs, w.subscribers)
	w.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}

	w.tick.Add(1)
	for _, sub := range subs {
		added := sub.instance.Added()
		removed := sub.instance.Removed()
		changed := sub.instance.Changed()
		if len(added) == 0 && len(removed) == 0 && len(changed) == 0 {
			continue
		}
		sub.callback(added, removed, changed)
	}
}

// Dispose tears down the World's worker manager. The World itself is not
// reusable afterward.
func (w *World) Dispose() {
	w.workerMgr.dispose()
}

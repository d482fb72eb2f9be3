package ecs

// SystemKind distinguishes a main-thread system, run synchronously in
// execute() order, from a worker system, dispatched to a goroutine pool.
type SystemKind int

const (
	SystemMain SystemKind = iota
	SystemWorker
)

// Priority orders worker system dispatch within one execute() call. Workers
// are started high-to-low; main systems run concurrently with them and never
// wait on a dispatch to start.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// MainFunc is a main-thread system body.
type MainFunc func(ctx *Context)

// WorkerFunc is a worker-thread system body. The original runtime loads a
// worker system from a module path into a separate JS execution context;
// Go has no analogous dynamic loader and no need for one, since goroutines
// already share the process's memory and code — a worker system is simply
// the function WorkerManager runs on fresh goroutines each dispatch.
type WorkerFunc func(ctx *Context) error

// System is one registered unit of per-tick work: a stable ID, a kind, the
// function body for that kind, and (for workers) a desired thread count and
// priority. prevEventIndex/currEventIndex are markers World shifts on every
// execute() call, used to bound the reclamation window (see World.reclaim).
type System struct {
	ID   string
	Kind SystemKind
	Main MainFunc

	// Init runs once per worker system, the first time it is dispatched,
	// bounded by the 5s init timeout.
	Init     WorkerFunc
	Worker   WorkerFunc
	Threads  int
	Priority Priority

	prevEventIndex uint32
	currEventIndex uint32
	seen           bool
}

// NewMainSystem builds a main-thread system with the given stable ID.
func NewMainSystem(id string, fn MainFunc) *System {
	return &System{ID: id, Kind: SystemMain, Main: fn}
}

// NewWorkerSystem builds a worker system with the given stable ID, desired
// thread count (floored at 1), and dispatch priority.
func NewWorkerSystem(id string, threads int, priority Priority, fn WorkerFunc) *System {
	if threads < 1 {
		threads = 1
	}
	return &System{ID: id, Kind: SystemWorker, Worker: fn, Threads: threads, Priority: priority}
}

// WithInit attaches a one-time initializer run before this worker system's
// first dispatch, and returns the system for chaining.
func (s *System) WithInit(fn WorkerFunc) *System {
	s.Init = fn
	return s
}

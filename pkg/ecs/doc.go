// Package ecs implements the entity-component-system runtime that backs the
// woven-canvas editor: entity lifecycle and generations, columnar component
// storage, a lock-free event ring buffer, bitmask queries with reactive
// added/removed/changed streams, and a worker-parallel system scheduler.
//
// The runtime is single-process. "Worker" systems run on goroutines that
// share the same memory as the main goroutine instead of OS threads or
// structured-clone workers, since Go goroutines already share an address
// space — see WorkerManager.
package ecs

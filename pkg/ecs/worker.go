package ecs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Worker lifecycle timeouts. A worker system that blows past either is
// reported as a WorkerError rather than left to hang the tick forever.
const (
	workerInitTimeout    = 5 * time.Second
	workerExecuteTimeout = 30 * time.Second
)

// WorkerManager dispatches worker systems onto goroutines. There is no
// process boundary to amortize: a goroutine costs kilobytes, not a new
// execution context, so WorkerManager starts exactly Threads goroutines per
// dispatched system per tick rather than maintaining an idle pool to reuse.
type WorkerManager struct {
	world  *World
	logger *logrus.Entry

	mu          sync.Mutex
	initialized map[string]bool
}

func newWorkerManager(w *World, logger *logrus.Entry) *WorkerManager {
	return &WorkerManager{world: w, logger: logger, initialized: make(map[string]bool)}
}

// ensureInit runs sys.Init exactly once, bounded by workerInitTimeout, the
// first time sys is dispatched.
func (m *WorkerManager) ensureInit(parent context.Context, sys *System) error {
	m.mu.Lock()
	if m.initialized[sys.ID] || sys.Init == nil {
		m.initialized[sys.ID] = true
		m.mu.Unlock()
		return nil
	}
	m.initialized[sys.ID] = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, workerInitTimeout)
	defer cancel()

	done := make(chan error, 1)
	wctx := &Context{world: m.world, readerID: m.world.readerPrefix() + "_system_" + sys.ID + "_init", threadIndex: 0, threadCount: 1}
	go func() { done <- sys.Init(wctx) }()

	select {
	case err := <-done:
		if err != nil {
			return newWorkerError(fmt.Errorf("%w: %v", ErrWorkerError, err), 0, sys.ID)
		}
		return nil
	case <-ctx.Done():
		return newWorkerError(ErrWorkerInitTimeout, 0, sys.ID)
	}
}

// dispatch runs every worker system's Threads goroutines concurrently,
// bounded by workerExecuteTimeout, and joins on them via errgroup. A system
// whose init fails is excluded from this tick's dispatch; every other system
// still runs. Init failures and the first body/timeout error are joined into
// the returned error once all goroutines have finished or the deadline
// passes.
func (m *WorkerManager) dispatch(parent context.Context, systems []*System) error {
	var initErrs []error
	ready := make([]*System, 0, len(systems))
	for _, sys := range systems {
		if err := m.ensureInit(parent, sys); err != nil {
			if m.logger != nil {
				m.logger.WithError(err).WithField("system", sys.ID).Error("worker init failed")
			}
			initErrs = append(initErrs, err)
			continue
		}
		ready = append(ready, sys)
	}

	ctx, cancel := context.WithTimeout(parent, workerExecuteTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, sys := range ready {
		sys := sys
		for t := 0; t < sys.Threads; t++ {
			t := t
			g.Go(func() error {
				wctx := &Context{
					world:       m.world,
					readerID:    fmt.Sprintf("%s_system_%s_thread_%d", m.world.readerPrefix(), sys.ID, t),
					threadIndex: t,
					threadCount: sys.Threads,
				}
				errCh := make(chan error, 1)
				go func() { errCh <- sys.Worker(wctx) }()
				select {
				case err := <-errCh:
					if err != nil {
						return newWorkerError(fmt.Errorf("%w: %v", ErrWorkerError, err), t, sys.ID)
					}
					return nil
				case <-gctx.Done():
					return newWorkerError(ErrWorkerExecuteTimeout, t, sys.ID)
				}
			})
		}
	}

	err := g.Wait()
	if err != nil && m.logger != nil {
		m.logger.WithError(err).Warn("worker dispatch returned an error")
	}
	return errors.Join(append(initErrs, err)...)
}

// dispose is a no-op. The goroutines errgroup starts have all returned by
// the time dispatch returns, but a system body or Init that overran its
// timeout keeps running on its own goroutine until it returns; dispose does
// not stop it.
func (m *WorkerManager) dispose() {}

// internal/views/worker.go
package views

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"academic-records/internal/model"
)

// refreshRequest is one unit of work for the pool.
type refreshRequest struct {
	tenantID string
	views    []string
}

// WorkerPool drains refresh work concurrently across tenants while the
// keyed lock inside the manager keeps any single (tenant, view) pair
// serialized.
type WorkerPool struct {
	manager *Manager
	jobs    chan refreshRequest
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewWorkerPool(manager *Manager, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	wp := &WorkerPool{
		manager: manager,
		jobs:    make(chan refreshRequest, workers*4),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
	return wp
}

func (wp *WorkerPool) run() {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case job := <-wp.jobs:
					wp.process(job)
				default:
					return
				}
			}
		case job := <-wp.jobs:
			wp.process(job)
		}
	}
}

func (wp *WorkerPool) process(job refreshRequest) {
	if err := wp.manager.RefreshViewsForTenant(context.Background(), job.tenantID, job.views...); err != nil {
		log.Printf("[Views] Refresh failed for tenant %s: %v", job.tenantID, err)
	}
}

// Enqueue schedules a refresh; blocks when the pool is saturated, which
// applies natural backpressure to the scheduler. After Stop it becomes
// a no-op, so producers that outlive the pool never hang or panic.
func (wp *WorkerPool) Enqueue(tenantID string, views ...string) {
	select {
	case wp.jobs <- refreshRequest{tenantID: tenantID, views: views}:
	case <-wp.done:
	}
}

// Stop releases blocked producers, drains queued work, and waits for
// in-flight refreshes. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.once.Do(func() { close(wp.done) })
	wp.wg.Wait()
}

// HandleRefreshEvent is the bus handler for *.view.refresh_pending. It
// refreshes synchronously so a failure nacks the message into the
// dead-letter flow; concurrency is already bounded by prefetch.
func (wp *WorkerPool) HandleRefreshEvent(ctx context.Context, ev model.DomainEvent) error {
	var p refreshPayload
	if err := json.Unmarshal(ev.EventData, &p); err != nil {
		log.Printf("[Views] Malformed refresh event %s, skipping: %v", ev.EventID, err)
		return nil
	}
	return wp.manager.RefreshViewsForTenant(ctx, ev.TenantID, p.Views...)
}

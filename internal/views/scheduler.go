// internal/views/scheduler.go
package views

import (
	"context"
	"log"
	"time"

	"academic-records/internal/config"
	"academic-records/internal/tenant"
)

// Scheduler drives wall-clock refreshes: an hourly full pass over every
// tenant's views and a more frequent dashboard-only pass, so dashboards
// stay fresh without paying for the heavy views each time.
type Scheduler struct {
	registry *tenant.Registry
	pool     *WorkerPool

	fullInterval      time.Duration
	dashboardInterval time.Duration
}

func NewScheduler(registry *tenant.Registry, pool *WorkerPool, cfg *config.Config) *Scheduler {
	return &Scheduler{
		registry:          registry,
		pool:              pool,
		fullInterval:      cfg.Views.FullRefreshInterval.Std(),
		dashboardInterval: cfg.Views.DashboardRefreshInterval.Std(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	full := time.NewTicker(s.fullInterval)
	dashboard := time.NewTicker(s.dashboardInterval)
	defer full.Stop()
	defer dashboard.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			s.enqueueAll(ctx, AllViews...)
		case <-dashboard.C:
			s.enqueueAll(ctx, ViewDashboardSummary)
		}
	}
}

func (s *Scheduler) enqueueAll(ctx context.Context, views ...string) {
	tenants, err := s.registry.ListTenants(ctx)
	if err != nil {
		log.Printf("[Views] Scheduler could not list tenants: %v", err)
		return
	}
	for _, t := range tenants {
		s.pool.Enqueue(t.ID, views...)
	}
}

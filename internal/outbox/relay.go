// internal/outbox/relay.go
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"academic-records/internal/config"
	"academic-records/internal/eventstore"
	"academic-records/internal/metrics"
	"academic-records/internal/model"
	"academic-records/internal/tenant"
)

// Relay reconciles the append-then-publish gap. Every appended event
// also lands in the tenant's outbox table inside the append transaction;
// a confirmed publish deletes the row, a failed one leaves it behind.
// The relay polls what is left and republishes it, which makes delivery
// at-least-once: consumers must be idempotent.
type Relay struct {
	registry  *tenant.Registry
	publisher eventstore.Publisher
	interval  time.Duration
	batchSize int
}

func NewRelay(registry *tenant.Registry, publisher eventstore.Publisher, cfg *config.Config) *Relay {
	return &Relay{
		registry:  registry,
		publisher: publisher,
		interval:  cfg.Outbox.PollInterval.Std(),
		batchSize: cfg.Outbox.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep processes one batch per tenant.
func (r *Relay) sweep(ctx context.Context) {
	tenants, err := r.registry.ListTenants(ctx)
	if err != nil {
		log.Printf("[Outbox] Failed to list tenants: %v", err)
		return
	}
	for _, t := range tenants {
		if err := r.relayTenant(ctx, t.ID); err != nil {
			log.Printf("[Outbox] Relay failed for tenant %s: %v", t.ID, err)
		}
	}
}

func (r *Relay) relayTenant(ctx context.Context, tenantID string) error {
	var relayed int
	err := r.registry.WithTransaction(ctx, tenantID, func(tx *sql.Tx) error {
		// SKIP LOCKED keeps concurrent relay processes off each other's
		// batches without blocking appends.
		rows, err := tx.Query(`
			SELECT event_id, payload
			FROM outbox
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, r.batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		type row struct {
			id      string
			payload []byte
		}
		var batch []row
		for rows.Next() {
			var rw row
			if err := rows.Scan(&rw.id, &rw.payload); err != nil {
				return err
			}
			batch = append(batch, rw)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, rw := range batch {
			var ev model.DomainEvent
			if err := json.Unmarshal(rw.payload, &ev); err != nil {
				log.Printf("[Outbox] Dropping undecodable outbox row %s: %v", rw.id, err)
				if _, err := tx.Exec(`DELETE FROM outbox WHERE event_id = $1`, rw.id); err != nil {
					return err
				}
				continue
			}
			if err := r.publisher.Publish(ctx, ev.EventType, &ev); err != nil {
				// Broker still down; leave the row for the next tick.
				return nil
			}
			if _, err := tx.Exec(`DELETE FROM outbox WHERE event_id = $1`, rw.id); err != nil {
				return err
			}
			relayed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if relayed > 0 {
		log.Printf("[Outbox] Republished %d pending events for tenant %s", relayed, tenantID)
	}
	r.updateBacklog(ctx, tenantID)
	return nil
}

func (r *Relay) updateBacklog(ctx context.Context, tenantID string) {
	var n int
	err := r.registry.ExecuteQuery(ctx, tenantID, `SELECT COUNT(*) FROM outbox`,
		func(rows *sql.Rows) error {
			if rows.Next() {
				return rows.Scan(&n)
			}
			return nil
		})
	if err != nil {
		return
	}
	metrics.OutboxBacklog.WithLabelValues(tenantID).Set(float64(n))
}

// internal/eventstore/store.go
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"

	"academic-records/internal/bus"
	"academic-records/internal/errs"
	"academic-records/internal/metrics"
	"academic-records/internal/model"
	"academic-records/internal/tenant"
)

// Publisher is what Append needs from the event bus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, ev *model.DomainEvent) error
}

// Store is the append-only event log. The log is the sole source of
// truth; everything downstream is derived and disposable.
type Store struct {
	registry  *tenant.Registry
	publisher Publisher
}

func New(registry *tenant.Registry, publisher Publisher) *Store {
	return &Store{registry: registry, publisher: publisher}
}

// Append validates the event, persists it together with an outbox row in
// one transaction, then publishes it on the bus. Append and publish are
// deliberately not one atomic unit: a publish failure after a successful
// append is a partial failure, logged and left for the outbox relay to
// reconcile. The append itself still succeeds.
func (s *Store) Append(ctx context.Context, ev *model.DomainEvent) error {
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	key := bus.RoutingKey(ev.TenantID, ev.EventType)

	err = s.registry.WithTransaction(ctx, ev.TenantID, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO events
				(event_id, aggregate_id, event_type, event_data, event_time, tenant_id, correlation_id, user_id, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ev.EventID, ev.AggregateID, ev.EventType, []byte(ev.EventData), ev.EventTime,
			ev.TenantID, ev.CorrelationID, ev.UserID, ev.Version,
		); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO outbox (event_id, routing_key, payload) VALUES ($1, $2, $3)`,
			ev.EventID, key, payload)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &errs.Error{
				Kind:        errs.KindConsistency,
				TenantID:    ev.TenantID,
				AggregateID: ev.AggregateID,
				EventType:   ev.EventType,
				Msg:         fmt.Sprintf("version %d already appended for this aggregate", ev.Version),
			}
		}
		return err
	}
	metrics.EventsAppended.WithLabelValues(ev.TenantID, ev.EventType).Inc()

	if err := s.publisher.Publish(ctx, ev.EventType, ev); err != nil {
		metrics.PublishFailures.WithLabelValues(ev.TenantID).Inc()
		log.Printf("[EventStore] %v", errs.Partial(ev.TenantID, ev.EventType,
			"append succeeded but publish failed; outbox relay will republish", err))
		return nil
	}

	// Publish confirmed; the outbox row has served its purpose.
	if _, err := s.registry.Execute(ctx, ev.TenantID,
		`DELETE FROM outbox WHERE event_id = $1`, ev.EventID); err != nil {
		log.Printf("[EventStore] Failed to clear outbox row %s: %v", ev.EventID, err)
	}
	return nil
}

// GetEvents returns one aggregate's stream in replay order, optionally
// starting after fromVersion. Used for rebuilds and for reconciliation
// of unpublished events.
func (s *Store) GetEvents(ctx context.Context, tenantID, aggregateID string, fromVersion int64) ([]model.DomainEvent, error) {
	var events []model.DomainEvent
	err := s.registry.ExecuteQuery(ctx, tenantID, `
		SELECT event_id, aggregate_id, event_type, event_data, event_time, tenant_id, correlation_id, user_id, version
		FROM events
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version, event_time`,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var ev model.DomainEvent
				var data []byte
				if err := rows.Scan(&ev.EventID, &ev.AggregateID, &ev.EventType, &data, &ev.EventTime,
					&ev.TenantID, &ev.CorrelationID, &ev.UserID, &ev.Version); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				ev.EventData = json.RawMessage(data)
				events = append(events, ev)
			}
			return nil
		},
		aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MaxVersion returns the highest persisted version for an aggregate,
// zero when the stream is empty.
func (s *Store) MaxVersion(ctx context.Context, tenantID, aggregateID string) (int64, error) {
	var max int64
	err := s.registry.ExecuteQuery(ctx, tenantID,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		func(rows *sql.Rows) error {
			if rows.Next() {
				if err := rows.Scan(&max); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
			}
			return nil
		},
		aggregateID)
	if err != nil {
		return 0, err
	}
	return max, nil
}

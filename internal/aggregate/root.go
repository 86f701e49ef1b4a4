// internal/aggregate/root.go
package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

// Meta carries the command context upstream producers supply.
type Meta struct {
	UserID        string
	CorrelationID uuid.UUID
}

// Aggregate is an in-memory projection of one entity's event stream.
// Apply must be pure and deterministic: replaying the same events always
// yields the same state and never re-emits events.
type Aggregate interface {
	AggregateID() string
	TenantID() string
	AggregateType() string
	CurrentVersion() int64
	UncommittedEvents() []model.DomainEvent
	ClearUncommitted()
	Apply(ev model.DomainEvent) error
	SnapshotData() (json.RawMessage, error)
	RestoreSnapshot(data json.RawMessage, version int64) error

	base() *Root
}

// Root holds the bookkeeping every aggregate shares: identity, the
// monotonically increasing version, and the buffer of events that have
// been applied locally but not yet persisted.
type Root struct {
	ID     string
	Tenant string

	version     int64
	snapVersion int64 // version of the snapshot this instance was restored from
	uncommitted []model.DomainEvent
}

func newRoot(tenantID, aggregateID string) Root {
	return Root{ID: aggregateID, Tenant: tenantID}
}

func (r *Root) AggregateID() string                    { return r.ID }
func (r *Root) TenantID() string                       { return r.Tenant }
func (r *Root) CurrentVersion() int64                  { return r.version }
func (r *Root) UncommittedEvents() []model.DomainEvent { return r.uncommitted }
func (r *Root) ClearUncommitted()                      { r.uncommitted = nil }
func (r *Root) base() *Root                            { return r }

// addEvent buffers a new event, applies it locally, and increments the
// version. Nothing is durable until the buffer is persisted through the
// event store.
func (r *Root) addEvent(agg Aggregate, eventType string, payload interface{}, m Meta) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	ev := model.DomainEvent{
		AggregateID:   r.ID,
		TenantID:      r.Tenant,
		EventType:     eventType,
		EventData:     data,
		Version:       r.version + 1,
		UserID:        m.UserID,
		CorrelationID: m.CorrelationID,
	}
	ev.Normalize()
	if err := agg.Apply(ev); err != nil {
		return err
	}
	r.version = ev.Version
	r.uncommitted = append(r.uncommitted, ev)
	return nil
}

// FromHistory rebuilds state by applying every event in order. Replaying
// zero events is an error: an aggregate with no history does not exist.
func FromHistory(agg Aggregate, events []model.DomainEvent) error {
	if len(events) == 0 {
		return errs.EmptyHistory
	}
	return applyTail(agg, events)
}

// applyTail applies events after a snapshot (or from scratch), enforcing
// the strict version ordering of the stream.
func applyTail(agg Aggregate, events []model.DomainEvent) error {
	r := agg.base()
	for _, ev := range events {
		if ev.Version != r.version+1 {
			return errs.Consistency(r.Tenant, r.ID,
				fmt.Sprintf("event version %d does not follow %d", ev.Version, r.version))
		}
		if err := agg.Apply(ev); err != nil {
			return err
		}
		r.version = ev.Version
	}
	return nil
}

func (r *Root) markRestored(version int64) {
	r.version = version
	r.snapVersion = version
}

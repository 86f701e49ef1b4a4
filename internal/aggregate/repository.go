// internal/aggregate/repository.go
package aggregate

import (
	"context"
	"time"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

// EventStore is what the repository needs from the persistence layer.
type EventStore interface {
	Append(ctx context.Context, ev *model.DomainEvent) error
	GetEvents(ctx context.Context, tenantID, aggregateID string, fromVersion int64) ([]model.DomainEvent, error)
	GetSnapshot(ctx context.Context, tenantID, aggregateID string) (*model.Snapshot, error)
	VerifySnapshot(ctx context.Context, tenantID string, snap *model.Snapshot) error
	SaveSnapshot(ctx context.Context, tenantID string, snap model.Snapshot, expectedVersion int64) error
}

// Repository loads aggregates from snapshot plus event tail and persists
// their uncommitted buffers.
type Repository struct {
	store         EventStore
	snapshotEvery int64
}

func NewRepository(store EventStore, snapshotEvery int64) *Repository {
	if snapshotEvery <= 0 {
		snapshotEvery = 50
	}
	return &Repository{store: store, snapshotEvery: snapshotEvery}
}

// Load rehydrates agg in place. Long streams skip to the snapshot and
// replay only events after snapshot.version. A snapshot ahead of the
// log is fatal.
func (r *Repository) Load(ctx context.Context, agg Aggregate) error {
	snap, err := r.store.GetSnapshot(ctx, agg.TenantID(), agg.AggregateID())
	if err != nil {
		return err
	}
	if snap != nil {
		if err := r.store.VerifySnapshot(ctx, agg.TenantID(), snap); err != nil {
			return err
		}
		if err := agg.RestoreSnapshot(snap.Data, snap.Version); err != nil {
			return err
		}
		agg.base().markRestored(snap.Version)
	}

	events, err := r.store.GetEvents(ctx, agg.TenantID(), agg.AggregateID(), agg.CurrentVersion())
	if err != nil {
		return err
	}
	if snap == nil {
		return FromHistory(agg, events)
	}
	return applyTail(agg, events)
}

// Save appends the uncommitted buffer event by event, then clears it.
// Events become durable (and visible to subscribers) here, not at
// command time. When the stream has grown enough since the last
// snapshot, a new snapshot is written with a compare-and-swap on the
// previous snapshot version.
func (r *Repository) Save(ctx context.Context, agg Aggregate) error {
	pending := agg.UncommittedEvents()
	for i := range pending {
		if err := r.store.Append(ctx, &pending[i]); err != nil {
			return err
		}
	}
	agg.ClearUncommitted()

	root := agg.base()
	if root.version-root.snapVersion < r.snapshotEvery {
		return nil
	}
	data, err := agg.SnapshotData()
	if err != nil {
		return err
	}
	snap := model.Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		Data:          data,
		Version:       root.version,
		UpdatedAt:     time.Now().UTC(),
	}
	err = r.store.SaveSnapshot(ctx, agg.TenantID(), snap, root.snapVersion)
	if err != nil {
		// Losing the snapshot CAS to a concurrent writer is harmless:
		// the log already has the events, the next save tries again.
		if errs.IsKind(err, errs.KindConsistency) {
			return nil
		}
		return err
	}
	root.snapVersion = root.version
	return nil
}

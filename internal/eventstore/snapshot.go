// internal/eventstore/snapshot.go
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

// SaveSnapshot upserts an aggregate's snapshot with an optimistic
// concurrency check: the write only lands if the stored version still
// matches expectedVersion (zero for a first snapshot). Concurrent
// writers lose the race instead of silently clobbering each other.
func (s *Store) SaveSnapshot(ctx context.Context, tenantID string, snap model.Snapshot, expectedVersion int64) error {
	if !model.ValidTenantID(tenantID) {
		return errs.Validation(tenantID, "invalid tenant id")
	}
	if snap.Version <= expectedVersion {
		return errs.Consistency(tenantID, snap.AggregateID,
			fmt.Sprintf("snapshot version %d must exceed previous %d", snap.Version, expectedVersion))
	}

	return s.registry.WithTransaction(ctx, tenantID, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO snapshots (aggregate_id, aggregate_type, data, version, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (aggregate_id) DO UPDATE
				SET aggregate_type = EXCLUDED.aggregate_type,
				    data           = EXCLUDED.data,
				    version        = EXCLUDED.version,
				    updated_at     = NOW()
				WHERE snapshots.version = $5`,
			snap.AggregateID, snap.AggregateType, []byte(snap.Data), snap.Version, expectedVersion)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.Consistency(tenantID, snap.AggregateID,
				fmt.Sprintf("snapshot CAS failed: stored version moved past %d", expectedVersion))
		}
		return nil
	})
}

// GetSnapshot returns the stored snapshot, or nil when none exists.
func (s *Store) GetSnapshot(ctx context.Context, tenantID, aggregateID string) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := s.registry.ExecuteQuery(ctx, tenantID, `
		SELECT aggregate_id, aggregate_type, data, version, updated_at
		FROM snapshots WHERE aggregate_id = $1`,
		func(rows *sql.Rows) error {
			if !rows.Next() {
				return nil
			}
			var st model.Snapshot
			var data []byte
			if err := rows.Scan(&st.AggregateID, &st.AggregateType, &data, &st.Version, &st.UpdatedAt); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			st.Data = json.RawMessage(data)
			snap = &st
			return nil
		},
		aggregateID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// VerifySnapshot guards against a snapshot that claims to be ahead of
// the persisted log. That state means the log lost writes or the
// snapshot belongs to a different timeline; it is fatal and never
// auto-corrected.
func (s *Store) VerifySnapshot(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	if snap == nil {
		return nil
	}
	max, err := s.MaxVersion(ctx, tenantID, snap.AggregateID)
	if err != nil {
		return err
	}
	if snap.Version > max {
		return errs.Consistency(tenantID, snap.AggregateID,
			fmt.Sprintf("snapshot version %d exceeds latest persisted event version %d", snap.Version, max))
	}
	return nil
}

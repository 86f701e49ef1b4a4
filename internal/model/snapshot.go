// internal/model/snapshot.go
package model

import (
	"encoding/json"
	"time"
)

// Snapshot is a periodic materialization of one aggregate's state, used
// to bound replay cost on long streams. One row per aggregate.
type Snapshot struct {
	AggregateID   string          `db:"aggregate_id"`
	AggregateType string          `db:"aggregate_type"`
	Data          json.RawMessage `db:"data"`
	Version       int64           `db:"version"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

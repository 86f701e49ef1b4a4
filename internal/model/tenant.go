// internal/model/tenant.go
package model

import "time"

// Tenant is a row in the shared catalog table. All of its data lives in
// its own schema; the catalog only records that the tenant exists so the
// service can recover pools, consumers, and view schedules on restart.
type Tenant struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
}

// internal/tenant/registry.go
package tenant

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"academic-records/internal/config"
	"academic-records/internal/errs"
	"academic-records/internal/metrics"
	"academic-records/internal/model"
)

// Registry owns one isolated connection pool and schema per tenant.
// Pools are created lazily on first access; the only shared mutable
// state is the pool map, guarded so a race never creates two pools for
// the same tenant.
type Registry struct {
	cfg       *config.Config
	bootstrap *sql.DB

	mu    sync.RWMutex
	pools map[string]*sql.DB
}

// NewRegistry opens the shared bootstrap pool and prepares the tenant
// catalog. Failure here is fatal to process startup; the caller exits.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bootstrap pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime.Std())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.QueryTimeout.Std())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tenant catalog: %w", err)
	}

	return &Registry{
		cfg:       cfg,
		bootstrap: db,
		pools:     make(map[string]*sql.DB),
	}, nil
}

// Conn returns the tenant's pool, creating the schema and pool on first
// use. Creation is exclusive: double-checked locking on the pool map.
func (r *Registry) Conn(ctx context.Context, tenantID string) (*sql.DB, error) {
	schema, err := SchemaName(tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	db, ok := r.pools[tenantID]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.pools[tenantID]; ok {
		return db, nil
	}

	if err := r.ensureSchema(ctx, tenantID, schema); err != nil {
		return nil, err
	}

	db, err = r.openTenantPool(schema)
	if err != nil {
		return nil, errs.Connection(tenantID, "failed to open tenant pool", err)
	}

	if _, err := r.bootstrap.ExecContext(ctx,
		`INSERT INTO tenants (id) VALUES ($1) ON CONFLICT DO NOTHING`, tenantID); err != nil {
		db.Close()
		return nil, mapDBError(tenantID, "failed to register tenant", err)
	}

	r.pools[tenantID] = db
	metrics.ActivePools.Set(float64(len(r.pools)))
	log.Printf("[Registry] Pool and schema ready for tenant %s", tenantID)
	return db, nil
}

func (r *Registry) openTenantPool(schema string) (*sql.DB, error) {
	dsn, err := dsnWithSearchPath(r.cfg.Database.URL, schema)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(r.cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(r.cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(r.cfg.Database.ConnMaxLifetime.Std())
	return db, nil
}

// dsnWithSearchPath pins every connection of a tenant pool to its schema.
func dsnWithSearchPath(dsn, schema string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return dsn + " search_path=" + schema, nil
}

// ensureSchema creates the tenant schema and its base tables in one
// transaction through the bootstrap pool.
func (r *Registry) ensureSchema(ctx context.Context, tenantID, schema string) error {
	quoted, err := QuoteIdent(schema)
	if err != nil {
		return err
	}

	tx, err := r.bootstrap.BeginTx(ctx, nil)
	if err != nil {
		return mapDBError(tenantID, "failed to begin schema transaction", err)
	}
	defer tx.Rollback()

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.events (
			event_id       UUID PRIMARY KEY,
			aggregate_id   TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			event_data     JSONB NOT NULL DEFAULT '{}',
			event_time     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			tenant_id      TEXT NOT NULL,
			correlation_id UUID NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			version        BIGINT NOT NULL,
			UNIQUE (aggregate_id, version)
		)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON %s.events (aggregate_id, version)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_time ON %s.events (event_time)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.snapshots (
			aggregate_id   TEXT PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			data           JSONB NOT NULL,
			version        BIGINT NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.outbox (
			event_id    UUID PRIMARY KEY,
			routing_key TEXT NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.courses (
			course_id  TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			credits    INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.enrollments (
			student_id  TEXT NOT NULL,
			course_id   TEXT NOT NULL,
			enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (student_id, course_id)
		)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.grades (
			grade_id   UUID PRIMARY KEY,
			student_id TEXT NOT NULL,
			course_id  TEXT NOT NULL,
			assignment TEXT NOT NULL DEFAULT '',
			score      NUMERIC(5,2) NOT NULL,
			graded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_grades_student ON %s.grades (student_id, course_id)`, quoted),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.assignments (
			assignment_id UUID PRIMARY KEY,
			course_id     TEXT NOT NULL,
			student_id    TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			submitted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapDBError(tenantID, "failed to create tenant schema", err)
		}
	}
	return tx.Commit()
}

// ExecuteQuery runs a single read in the tenant's schema and hands the
// result set to scan. The configured timeout covers both the query and
// the scan, so the rows stay valid for the whole callback; they are
// closed on return and must not escape it.
func (r *Registry) ExecuteQuery(ctx context.Context, tenantID, query string, scan func(*sql.Rows) error, args ...interface{}) error {
	db, err := r.Conn(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := queryRows(ctx, db, r.cfg.Database.QueryTimeout.Std(), query, scan, args...); err != nil {
		return mapDBError(tenantID, "query failed", err)
	}
	return nil
}

func queryRows(ctx context.Context, db *sql.DB, timeout time.Duration, query string, scan func(*sql.Rows) error, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := scan(rows); err != nil {
		return err
	}
	return rows.Err()
}

// Execute runs a single write in the tenant's schema.
func (r *Registry) Execute(ctx context.Context, tenantID, query string, args ...interface{}) (sql.Result, error) {
	db, err := r.Conn(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Database.QueryTimeout.Std())
	defer cancel()
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapDBError(tenantID, "exec failed", err)
	}
	return res, nil
}

// WithTransaction begins a transaction on the tenant's pool, runs fn,
// commits on success and rolls back on any error. The connection is
// released on every exit path.
func (r *Registry) WithTransaction(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) error {
	db, err := r.Conn(ctx, tenantID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Database.QueryTimeout.Std())
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapDBError(tenantID, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapDBError(tenantID, "failed to commit transaction", err)
	}
	return nil
}

// DropTenant tears a tenant down: close the pool, drop the schema, and
// remove the catalog row. Administrative; idempotent.
func (r *Registry) DropTenant(ctx context.Context, tenantID string) error {
	schema, err := SchemaName(tenantID)
	if err != nil {
		return err
	}
	quoted, err := QuoteIdent(schema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if db, ok := r.pools[tenantID]; ok {
		db.Close()
		delete(r.pools, tenantID)
		metrics.ActivePools.Set(float64(len(r.pools)))
	}
	r.mu.Unlock()

	if _, err := r.bootstrap.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, quoted)); err != nil {
		return mapDBError(tenantID, "failed to drop tenant schema", err)
	}
	if _, err := r.bootstrap.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID); err != nil {
		return mapDBError(tenantID, "failed to deregister tenant", err)
	}
	log.Printf("[Registry] Tenant %s dropped", tenantID)
	return nil
}

// ListTenants returns the catalog, used at startup to recover pools and
// view schedules.
func (r *Registry) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.bootstrap.QueryContext(ctx, `SELECT id, display_name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, mapDBError("", "failed to list tenants", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.DisplayName, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Bootstrap exposes the shared pool for health checks.
func (r *Registry) Bootstrap() *sql.DB { return r.bootstrap }

// Close releases every pool. Called once during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, db := range r.pools {
		db.Close()
		log.Printf("[Registry] Closed pool for tenant %s", id)
	}
	r.pools = make(map[string]*sql.DB)
	metrics.ActivePools.Set(0)
	r.bootstrap.Close()
}

// mapDBError classifies driver failures: pool exhaustion and connect
// timeouts are retryable connection errors, everything else is wrapped
// as-is.
func mapDBError(tenantID, msg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return errs.Connection(tenantID, msg, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 = connection exception, class 53 = insufficient resources.
		class := pqErr.Code.Class()
		if class == "08" || class == "53" {
			return errs.Connection(tenantID, msg, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ConnectTimeout bounds how long callers should wait for acquisition
// before treating the operation as a retryable failure.
func (r *Registry) ConnectTimeout() time.Duration { return r.cfg.Database.QueryTimeout.Std() }

// internal/views/manager.go
package views

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"academic-records/internal/errs"
	"academic-records/internal/metrics"
	"academic-records/internal/tenant"
)

// The per-tenant denormalized read models. Query handlers read these and
// nothing else; they are derived from the base tables and disposable.
const (
	ViewDashboardSummary = "dashboard_summary"
	ViewCourseSummary    = "course_summary"
	ViewStudentProgress  = "student_progress"
)

// AllViews in creation order.
var AllViews = []string{ViewDashboardSummary, ViewCourseSummary, ViewStudentProgress}

// refreshChannel is the LISTEN/NOTIFY channel the change triggers use.
const refreshChannel = "view_refresh_pending"

// Manager creates, refreshes, and retires the per-tenant materialized
// views. Explicitly constructed, no package state.
type Manager struct {
	registry *tenant.Registry
	locks    *keyedMutex
}

func NewManager(registry *tenant.Registry) *Manager {
	return &Manager{registry: registry, locks: newKeyedMutex()}
}

var viewDefinitions = map[string]string{
	ViewDashboardSummary: `
		CREATE MATERIALIZED VIEW IF NOT EXISTS dashboard_summary AS
		SELECT en.student_id,
		       COUNT(DISTINCT en.course_id)                  AS courses_enrolled,
		       COALESCE(gr.grades_recorded, 0)               AS grades_recorded,
		       gr.average_score                              AS average_score,
		       GREATEST(MAX(en.enrolled_at), gr.last_graded) AS last_activity
		FROM enrollments en
		LEFT JOIN (
			SELECT student_id,
			       COUNT(*)       AS grades_recorded,
			       AVG(score)     AS average_score,
			       MAX(graded_at) AS last_graded
			FROM grades
			GROUP BY student_id
		) gr ON gr.student_id = en.student_id
		GROUP BY en.student_id, gr.grades_recorded, gr.average_score, gr.last_graded`,

	ViewCourseSummary: `
		CREATE MATERIALIZED VIEW IF NOT EXISTS course_summary AS
		SELECT c.course_id,
		       c.name                             AS course_name,
		       c.status,
		       c.credits,
		       COALESCE(en.enrolled_count, 0)     AS enrolled_count,
		       COALESCE(gr.graded_count, 0)       AS graded_count,
		       gr.class_average                   AS class_average,
		       COALESCE(a.assignment_count, 0)    AS assignment_count
		FROM courses c
		LEFT JOIN (
			SELECT course_id, COUNT(DISTINCT student_id) AS enrolled_count
			FROM enrollments GROUP BY course_id
		) en ON en.course_id = c.course_id
		LEFT JOIN (
			SELECT course_id, COUNT(*) AS graded_count, AVG(score) AS class_average
			FROM grades GROUP BY course_id
		) gr ON gr.course_id = c.course_id
		LEFT JOIN (
			SELECT course_id, COUNT(*) AS assignment_count
			FROM assignments GROUP BY course_id
		) a ON a.course_id = c.course_id`,

	ViewStudentProgress: `
		CREATE MATERIALIZED VIEW IF NOT EXISTS student_progress AS
		SELECT en.student_id,
		       en.course_id,
		       c.name                                 AS course_name,
		       c.credits,
		       COALESCE(a.assignments_submitted, 0)   AS assignments_submitted,
		       gr.average_score                       AS average_score,
		       gr.last_graded_at                      AS last_graded_at
		FROM enrollments en
		JOIN courses c ON c.course_id = en.course_id
		LEFT JOIN (
			SELECT student_id, course_id, COUNT(*) AS assignments_submitted
			FROM assignments GROUP BY student_id, course_id
		) a ON a.student_id = en.student_id AND a.course_id = en.course_id
		LEFT JOIN (
			SELECT student_id, course_id, AVG(score) AS average_score, MAX(graded_at) AS last_graded_at
			FROM grades GROUP BY student_id, course_id
		) gr ON gr.student_id = en.student_id AND gr.course_id = en.course_id`,
}

// Unique indexes are required for REFRESH ... CONCURRENTLY.
var viewIndexes = map[string]string{
	ViewDashboardSummary: `CREATE UNIQUE INDEX IF NOT EXISTS uq_dashboard_summary
		ON dashboard_summary (student_id)`,
	ViewCourseSummary: `CREATE UNIQUE INDEX IF NOT EXISTS uq_course_summary
		ON course_summary (course_id)`,
	ViewStudentProgress: `CREATE UNIQUE INDEX IF NOT EXISTS uq_student_progress
		ON student_progress (student_id, course_id)`,
}

// Which views go stale when a base table changes.
var tableViews = map[string][]string{
	"courses":     {ViewCourseSummary, ViewStudentProgress},
	"enrollments": {ViewDashboardSummary, ViewCourseSummary, ViewStudentProgress},
	"grades":      {ViewDashboardSummary, ViewCourseSummary, ViewStudentProgress},
	"assignments": {ViewCourseSummary, ViewStudentProgress},
}

// CreateViewsForTenant creates all views, their unique indexes, and the
// statement-level change triggers in one transaction; any failing step
// rolls the whole operation back. The triggers only emit a NOTIFY, so
// writers are never blocked by read-model maintenance.
func (m *Manager) CreateViewsForTenant(ctx context.Context, tenantID string) error {
	schema, err := tenant.SchemaName(tenantID)
	if err != nil {
		return err
	}
	fn, err := tenant.QuoteQualified(schema, "notify_view_refresh")
	if err != nil {
		return err
	}

	return m.registry.WithTransaction(ctx, tenantID, func(tx *sql.Tx) error {
		for _, view := range AllViews {
			if _, err := tx.Exec(viewDefinitions[view]); err != nil {
				return fmt.Errorf("create view %s: %w", view, err)
			}
			if _, err := tx.Exec(viewIndexes[view]); err != nil {
				return fmt.Errorf("index view %s: %w", view, err)
			}
		}

		if _, err := tx.Exec(fmt.Sprintf(`
			CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $fn$
			BEGIN
				PERFORM pg_notify('%s', TG_ARGV[0]);
				RETURN NULL;
			END;
			$fn$ LANGUAGE plpgsql`, fn, refreshChannel)); err != nil {
			return fmt.Errorf("create notify function: %w", err)
		}

		for table, views := range tableViews {
			quotedTable, err := tenant.QuoteIdent(table)
			if err != nil {
				return err
			}
			payload := tenantID + ":" + joinViews(views)
			// DROP + CREATE instead of CREATE OR REPLACE: the latter
			// needs PostgreSQL 14, and 13 is still supported.
			if _, err := tx.Exec(fmt.Sprintf(
				`DROP TRIGGER IF EXISTS trg_%s_refresh ON %s`, table, quotedTable)); err != nil {
				return fmt.Errorf("drop stale trigger on %s: %w", table, err)
			}
			stmt := fmt.Sprintf(`
				CREATE TRIGGER trg_%s_refresh
				AFTER INSERT OR UPDATE OR DELETE ON %s
				FOR EACH STATEMENT EXECUTE FUNCTION %s('%s')`,
				table, quotedTable, fn, payload)
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("create trigger on %s: %w", table, err)
			}
		}
		log.Printf("[Views] Created views and triggers for tenant %s", tenantID)
		return nil
	})
}

// RefreshViewsForTenant recomputes the named views (all of them when
// none are named) without blocking ongoing reads. Self-concurrency per
// (tenant, view) is serialized with a keyed lock; distinct keys refresh
// in parallel.
func (m *Manager) RefreshViewsForTenant(ctx context.Context, tenantID string, viewNames ...string) error {
	if len(viewNames) == 0 {
		viewNames = AllViews
	}
	for _, view := range viewNames {
		if _, ok := viewDefinitions[view]; !ok {
			return errs.Validation(tenantID, fmt.Sprintf("unknown view %q", view))
		}
	}

	for _, view := range viewNames {
		if err := m.refreshOne(ctx, tenantID, view); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) refreshOne(ctx context.Context, tenantID, view string) error {
	unlock := m.locks.lock(tenantID + "/" + view)
	defer unlock()

	quoted, err := tenant.QuoteIdent(view)
	if err != nil {
		return err
	}

	start := time.Now()
	// CONCURRENTLY keeps readers unblocked; it cannot run inside a
	// transaction, so this is a bare exec on the tenant pool.
	_, err = m.registry.Execute(ctx, tenantID,
		fmt.Sprintf(`REFRESH MATERIALIZED VIEW CONCURRENTLY %s`, quoted))
	if err != nil {
		return fmt.Errorf("refresh %s for tenant %s: %w", view, tenantID, err)
	}
	metrics.ViewRefreshDuration.WithLabelValues(tenantID, view).Observe(time.Since(start).Seconds())
	log.Printf("[Views] Refreshed %s for tenant %s in %s", view, tenantID, time.Since(start))
	return nil
}

// DropViewsForTenant removes the views and triggers. Idempotent.
func (m *Manager) DropViewsForTenant(ctx context.Context, tenantID string) error {
	return m.registry.WithTransaction(ctx, tenantID, func(tx *sql.Tx) error {
		for table := range tableViews {
			quotedTable, err := tenant.QuoteIdent(table)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(fmt.Sprintf(
				`DROP TRIGGER IF EXISTS trg_%s_refresh ON %s`, table, quotedTable)); err != nil {
				return fmt.Errorf("drop trigger on %s: %w", table, err)
			}
		}
		for _, view := range AllViews {
			quoted, err := tenant.QuoteIdent(view)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(fmt.Sprintf(`DROP MATERIALIZED VIEW IF EXISTS %s`, quoted)); err != nil {
				return fmt.Errorf("drop view %s: %w", view, err)
			}
		}
		log.Printf("[Views] Dropped views for tenant %s", tenantID)
		return nil
	})
}

// ViewStatistics describes one materialized view's current shape.
type ViewStatistics struct {
	Name       string
	Populated  bool
	SizeBytes  int64
	TotalBytes int64
}

// GetViewStatistics reports per-view size and population state from the
// catalog. Idempotent; views that do not exist are simply absent.
func (m *Manager) GetViewStatistics(ctx context.Context, tenantID string) ([]ViewStatistics, error) {
	schema, err := tenant.SchemaName(tenantID)
	if err != nil {
		return nil, err
	}
	var stats []ViewStatistics
	err = m.registry.ExecuteQuery(ctx, tenantID, `
		SELECT matviewname,
		       ispopulated,
		       pg_relation_size(format('%I.%I', schemaname, matviewname)),
		       pg_total_relation_size(format('%I.%I', schemaname, matviewname))
		FROM pg_matviews
		WHERE schemaname = $1
		ORDER BY matviewname`,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var st ViewStatistics
				if err := rows.Scan(&st.Name, &st.Populated, &st.SizeBytes, &st.TotalBytes); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				stats = append(stats, st)
			}
			return nil
		},
		schema)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ViewsForTable reports which views a base-table change invalidates.
func ViewsForTable(table string) []string {
	return tableViews[table]
}

func joinViews(views []string) string {
	out := ""
	for i, v := range views {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

// internal/query/handlers.go
package query

import (
	"context"
	"database/sql"
	"fmt"

	"academic-records/internal/model"
	"academic-records/internal/tenant"
)

// Handlers is the stateless read API. It queries the materialized views
// only, never the event log, so results may lag the log by one refresh.
type Handlers struct {
	registry *tenant.Registry
}

func New(registry *tenant.Registry) *Handlers {
	return &Handlers{registry: registry}
}

// Pagination is offset/limit with a separate total count; ordering in
// every list query uses an explicit stable sort key so pages do not
// drift between requests.
type Pagination struct {
	Offset int
	Limit  int
}

func (p Pagination) normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// CourseFilters narrows the course summary listing.
type CourseFilters struct {
	Status string // "", "active", or "archived"
}

// DashboardSummary returns one student's dashboard row with GPA and
// percentile rank computed from the views. A missing student yields
// (nil, nil), never an error.
func (h *Handlers) DashboardSummary(ctx context.Context, tenantID, studentID string) (*model.DashboardSummary, error) {
	var d *model.DashboardSummary
	err := h.registry.ExecuteQuery(ctx, tenantID, `
		SELECT student_id, courses_enrolled, grades_recorded, average_score, last_activity
		FROM dashboard_summary WHERE student_id = $1`,
		func(rows *sql.Rows) error {
			if !rows.Next() {
				return nil
			}
			var row model.DashboardSummary
			if err := rows.Scan(&row.StudentID, &row.CoursesEnrolled, &row.GradesRecorded, &row.AverageScore, &row.LastActivity); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			d = &row
			return nil
		},
		studentID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}

	progress, err := h.StudentProgress(ctx, tenantID, studentID)
	if err != nil {
		return nil, err
	}
	d.GPA = GPA(progress)

	if d.AverageScore != nil {
		cohort, err := h.cohortScores(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		d.PercentileRank = PercentileRank(cohort, *d.AverageScore)
	}
	return d, nil
}

// CourseSummaries lists the course view with filters and pagination,
// returning the page and the unfiltered-by-page total.
func (h *Handlers) CourseSummaries(ctx context.Context, tenantID string, filters CourseFilters, page Pagination) ([]model.CourseSummary, int, error) {
	page = page.normalize()

	where := ""
	args := []interface{}{}
	if filters.Status != "" {
		where = "WHERE status = $1"
		args = append(args, filters.Status)
	}

	var total int
	err := h.registry.ExecuteQuery(ctx, tenantID,
		fmt.Sprintf(`SELECT COUNT(*) FROM course_summary %s`, where),
		func(rows *sql.Rows) error {
			if rows.Next() {
				if err := rows.Scan(&total); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
			}
			return nil
		},
		args...)
	if err != nil {
		return nil, 0, err
	}

	listArgs := append(args, page.Limit, page.Offset)
	var out []model.CourseSummary
	err = h.registry.ExecuteQuery(ctx, tenantID, fmt.Sprintf(`
		SELECT course_id, course_name, status, credits, enrolled_count, graded_count, class_average, assignment_count
		FROM course_summary %s
		ORDER BY course_id
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2),
		func(rows *sql.Rows) error {
			for rows.Next() {
				var c model.CourseSummary
				if err := rows.Scan(&c.CourseID, &c.CourseName, &c.Status, &c.Credits,
					&c.EnrolledCount, &c.GradedCount, &c.ClassAverage, &c.AssignmentCount); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				out = append(out, c)
			}
			return nil
		},
		listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// StudentProgress lists one student's per-course progress rows, ordered
// by course id. Missing student yields an empty slice.
func (h *Handlers) StudentProgress(ctx context.Context, tenantID, studentID string) ([]model.StudentProgress, error) {
	var out []model.StudentProgress
	err := h.registry.ExecuteQuery(ctx, tenantID, `
		SELECT student_id, course_id, course_name, credits, assignments_submitted, average_score, last_graded_at
		FROM student_progress
		WHERE student_id = $1
		ORDER BY course_id`,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var p model.StudentProgress
				if err := rows.Scan(&p.StudentID, &p.CourseID, &p.CourseName, &p.Credits,
					&p.AssignmentsSubmitted, &p.AverageScore, &p.LastGradedAt); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				out = append(out, p)
			}
			return nil
		},
		studentID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handlers) cohortScores(ctx context.Context, tenantID string) ([]float64, error) {
	var scores []float64
	err := h.registry.ExecuteQuery(ctx, tenantID,
		`SELECT average_score FROM dashboard_summary WHERE average_score IS NOT NULL`,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var s float64
				if err := rows.Scan(&s); err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				scores = append(scores, s)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// internal/views/projector.go
package views

import (
	"context"
	"encoding/json"
	"fmt"

	"academic-records/internal/model"
	"academic-records/internal/tenant"
)

// Projector maintains the per-tenant base tables the materialized views
// are built over. It consumes domain events off the bus; every write is
// an idempotent upsert keyed by the event id or the natural key, so
// at-least-once redelivery is harmless.
type Projector struct {
	registry *tenant.Registry
}

func NewProjector(registry *tenant.Registry) *Projector {
	return &Projector{registry: registry}
}

// Handlers returns the event-type -> handler map the dispatcher is
// built from at startup.
func (p *Projector) Handlers() map[string]func(ctx context.Context, ev model.DomainEvent) error {
	return map[string]func(ctx context.Context, ev model.DomainEvent) error{
		model.EventCourseCreated:       p.applyCourseCreated,
		model.EventCourseUpdated:       p.applyCourseUpdated,
		model.EventCourseArchived:      p.applyCourseArchived,
		model.EventStudentEnrolled:     p.applyStudentEnrolled,
		model.EventGradeUpdated:        p.applyGradeUpdated,
		model.EventAssignmentSubmitted: p.applyAssignmentSubmitted,
	}
}

type coursePayload struct {
	Name    string `json:"name"`
	Credits int    `json:"credits"`
}

func (p *Projector) applyCourseCreated(ctx context.Context, ev model.DomainEvent) error {
	var body coursePayload
	if err := json.Unmarshal(ev.EventData, &body); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		INSERT INTO courses (course_id, name, status, credits, updated_at)
		VALUES ($1, $2, 'active', $3, $4)
		ON CONFLICT (course_id) DO NOTHING`,
		ev.AggregateID, body.Name, body.Credits, ev.EventTime)
	return err
}

func (p *Projector) applyCourseUpdated(ctx context.Context, ev model.DomainEvent) error {
	var body coursePayload
	if err := json.Unmarshal(ev.EventData, &body); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		UPDATE courses SET name = $2, credits = $3, updated_at = $4
		WHERE course_id = $1 AND updated_at <= $4`,
		ev.AggregateID, body.Name, body.Credits, ev.EventTime)
	return err
}

func (p *Projector) applyCourseArchived(ctx context.Context, ev model.DomainEvent) error {
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		UPDATE courses SET status = 'archived', updated_at = $2
		WHERE course_id = $1`,
		ev.AggregateID, ev.EventTime)
	return err
}

func (p *Projector) applyStudentEnrolled(ctx context.Context, ev model.DomainEvent) error {
	var body struct {
		CourseID string `json:"course_id"`
	}
	if err := json.Unmarshal(ev.EventData, &body); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		INSERT INTO enrollments (student_id, course_id, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, course_id) DO NOTHING`,
		ev.AggregateID, body.CourseID, ev.EventTime)
	return err
}

func (p *Projector) applyGradeUpdated(ctx context.Context, ev model.DomainEvent) error {
	var body struct {
		CourseID   string  `json:"course_id"`
		Assignment string  `json:"assignment"`
		Score      float64 `json:"score"`
	}
	if err := json.Unmarshal(ev.EventData, &body); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	// Keyed by event id: replaying the same event is a no-op.
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		INSERT INTO grades (grade_id, student_id, course_id, assignment, score, graded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (grade_id) DO NOTHING`,
		ev.EventID, ev.AggregateID, body.CourseID, body.Assignment, body.Score, ev.EventTime)
	return err
}

func (p *Projector) applyAssignmentSubmitted(ctx context.Context, ev model.DomainEvent) error {
	var body struct {
		CourseID string `json:"course_id"`
		Title    string `json:"title"`
	}
	if err := json.Unmarshal(ev.EventData, &body); err != nil {
		return fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	_, err := p.registry.Execute(ctx, ev.TenantID, `
		INSERT INTO assignments (assignment_id, course_id, student_id, title, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (assignment_id) DO NOTHING`,
		ev.EventID, body.CourseID, ev.AggregateID, body.Title, ev.EventTime)
	return err
}

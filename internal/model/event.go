// internal/model/event.go
package model

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"academic-records/internal/errs"
)

// Event type names used by the academic domain. Consumers bind with
// topic patterns such as "bgu1.grade.*".
const (
	EventCourseCreated       = "course.created"
	EventCourseUpdated       = "course.updated"
	EventCourseArchived      = "course.archived"
	EventStudentEnrolled     = "student.enrolled"
	EventGradeUpdated        = "grade.updated"
	EventAssignmentSubmitted = "assignment.submitted"
	EventViewRefreshPending  = "view.refresh_pending"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,50}$`)

// ValidTenantID reports whether id is safe to use as a tenant namespace.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// DomainEvent is one immutable entry in an aggregate's stream. Once
// appended it is never mutated or deleted.
type DomainEvent struct {
	EventID       uuid.UUID       `db:"event_id" json:"event_id"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	EventData     json.RawMessage `db:"event_data" json:"event_data"`
	EventTime     time.Time       `db:"event_time" json:"event_time"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	CorrelationID uuid.UUID       `db:"correlation_id" json:"correlation_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	Version       int64           `db:"version" json:"version"`
}

// Normalize fills the defaults the producer may omit. It never touches
// fields that are already set.
func (e *DomainEvent) Normalize() {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.CorrelationID == uuid.Nil {
		e.CorrelationID = uuid.New()
	}
	if e.EventTime.IsZero() {
		e.EventTime = time.Now().UTC()
	}
	if len(e.EventData) == 0 {
		e.EventData = json.RawMessage(`{}`)
	}
}

// Validate rejects malformed events before any I/O happens.
func (e *DomainEvent) Validate() error {
	if !ValidTenantID(e.TenantID) {
		return errs.Validation(e.TenantID, "invalid tenant id")
	}
	if e.AggregateID == "" {
		return errs.Validation(e.TenantID, "missing aggregate id")
	}
	if e.EventType == "" {
		return &errs.Error{Kind: errs.KindValidation, TenantID: e.TenantID, AggregateID: e.AggregateID, Msg: "missing event type"}
	}
	if e.Version < 1 {
		return &errs.Error{
			Kind:        errs.KindValidation,
			TenantID:    e.TenantID,
			AggregateID: e.AggregateID,
			EventType:   e.EventType,
			Msg:         "event version must be >= 1",
		}
	}
	if len(e.EventData) > 0 && !json.Valid(e.EventData) {
		return &errs.Error{
			Kind:        errs.KindValidation,
			TenantID:    e.TenantID,
			AggregateID: e.AggregateID,
			EventType:   e.EventType,
			Msg:         "event data is not valid JSON",
		}
	}
	return nil
}

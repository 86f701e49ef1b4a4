// internal/aggregate/course.go
package aggregate

import (
	"encoding/json"
	"fmt"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

const (
	CourseStatusActive   = "active"
	CourseStatusArchived = "archived"
)

// Course is the catalog-entry aggregate: one entity per course offered
// by a tenant.
type Course struct {
	Root
	Name    string
	Status  string
	Credits int
}

func NewCourse(tenantID, courseID string) *Course {
	return &Course{Root: newRoot(tenantID, courseID)}
}

func (c *Course) AggregateType() string { return "course" }

type courseCreated struct {
	Name    string `json:"name"`
	Credits int    `json:"credits"`
}

type courseUpdated struct {
	Name    string `json:"name"`
	Credits int    `json:"credits"`
}

// Create emits course.created. Valid only on a fresh aggregate.
func (c *Course) Create(name string, credits int, m Meta) error {
	if c.CurrentVersion() > 0 {
		return errs.Consistency(c.Tenant, c.ID, "course already exists")
	}
	if name == "" {
		return errs.Validation(c.Tenant, "course name is required")
	}
	return c.addEvent(c, model.EventCourseCreated, courseCreated{Name: name, Credits: credits}, m)
}

func (c *Course) Update(name string, credits int, m Meta) error {
	if c.CurrentVersion() == 0 {
		return errs.Consistency(c.Tenant, c.ID, "cannot update a course that was never created")
	}
	if c.Status == CourseStatusArchived {
		return errs.Validation(c.Tenant, "cannot update an archived course")
	}
	return c.addEvent(c, model.EventCourseUpdated, courseUpdated{Name: name, Credits: credits}, m)
}

func (c *Course) Archive(m Meta) error {
	if c.CurrentVersion() == 0 {
		return errs.Consistency(c.Tenant, c.ID, "cannot archive a course that was never created")
	}
	if c.Status == CourseStatusArchived {
		return nil // already archived, nothing to emit
	}
	return c.addEvent(c, model.EventCourseArchived, struct{}{}, m)
}

// Apply mutates state from one event. Pure: no I/O, no new events.
func (c *Course) Apply(ev model.DomainEvent) error {
	switch ev.EventType {
	case model.EventCourseCreated:
		var p courseCreated
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		c.Name = p.Name
		c.Credits = p.Credits
		c.Status = CourseStatusActive
	case model.EventCourseUpdated:
		var p courseUpdated
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		c.Name = p.Name
		c.Credits = p.Credits
	case model.EventCourseArchived:
		c.Status = CourseStatusArchived
	default:
		return errs.Validation(c.Tenant, fmt.Sprintf("unknown course event type %q", ev.EventType))
	}
	return nil
}

type courseState struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Credits int    `json:"credits"`
}

func (c *Course) SnapshotData() (json.RawMessage, error) {
	return json.Marshal(courseState{Name: c.Name, Status: c.Status, Credits: c.Credits})
}

func (c *Course) RestoreSnapshot(data json.RawMessage, version int64) error {
	var st courseState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode course snapshot: %w", err)
	}
	c.Name = st.Name
	c.Status = st.Status
	c.Credits = st.Credits
	return nil
}

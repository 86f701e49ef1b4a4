// internal/aggregate/student.go
package aggregate

import (
	"encoding/json"
	"fmt"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

// Student tracks one student's enrollments, submissions, and grades
// within a tenant.
type Student struct {
	Root
	Enrollments map[string]bool    // courseID -> enrolled
	Grades      map[string]float64 // courseID -> latest score
	Submissions int
}

func NewStudent(tenantID, studentID string) *Student {
	return &Student{
		Root:        newRoot(tenantID, studentID),
		Enrollments: make(map[string]bool),
		Grades:      make(map[string]float64),
	}
}

func (s *Student) AggregateType() string { return "student" }

type studentEnrolled struct {
	CourseID string `json:"course_id"`
}

type gradeUpdated struct {
	CourseID   string  `json:"course_id"`
	Assignment string  `json:"assignment"`
	Score      float64 `json:"score"`
}

type assignmentSubmitted struct {
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
}

func (s *Student) Enroll(courseID string, m Meta) error {
	if courseID == "" {
		return errs.Validation(s.Tenant, "course id is required")
	}
	if s.Enrollments[courseID] {
		return nil // idempotent: already enrolled
	}
	return s.addEvent(s, model.EventStudentEnrolled, studentEnrolled{CourseID: courseID}, m)
}

func (s *Student) RecordGrade(courseID, assignment string, score float64, m Meta) error {
	if !s.Enrollments[courseID] {
		return errs.Validation(s.Tenant, fmt.Sprintf("student %s is not enrolled in %s", s.ID, courseID))
	}
	if score < 0 || score > 100 {
		return errs.Validation(s.Tenant, fmt.Sprintf("score %.2f out of range", score))
	}
	return s.addEvent(s, model.EventGradeUpdated,
		gradeUpdated{CourseID: courseID, Assignment: assignment, Score: score}, m)
}

func (s *Student) SubmitAssignment(courseID, title string, m Meta) error {
	if !s.Enrollments[courseID] {
		return errs.Validation(s.Tenant, fmt.Sprintf("student %s is not enrolled in %s", s.ID, courseID))
	}
	return s.addEvent(s, model.EventAssignmentSubmitted,
		assignmentSubmitted{CourseID: courseID, Title: title}, m)
}

func (s *Student) Apply(ev model.DomainEvent) error {
	switch ev.EventType {
	case model.EventStudentEnrolled:
		var p studentEnrolled
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		s.Enrollments[p.CourseID] = true
	case model.EventGradeUpdated:
		var p gradeUpdated
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		s.Grades[p.CourseID] = p.Score
	case model.EventAssignmentSubmitted:
		s.Submissions++
	default:
		return errs.Validation(s.Tenant, fmt.Sprintf("unknown student event type %q", ev.EventType))
	}
	return nil
}

type studentState struct {
	Enrollments map[string]bool    `json:"enrollments"`
	Grades      map[string]float64 `json:"grades"`
	Submissions int                `json:"submissions"`
}

func (s *Student) SnapshotData() (json.RawMessage, error) {
	return json.Marshal(studentState{Enrollments: s.Enrollments, Grades: s.Grades, Submissions: s.Submissions})
}

func (s *Student) RestoreSnapshot(data json.RawMessage, version int64) error {
	var st studentState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode student snapshot: %w", err)
	}
	s.Enrollments = st.Enrollments
	s.Grades = st.Grades
	s.Submissions = st.Submissions
	if s.Enrollments == nil {
		s.Enrollments = make(map[string]bool)
	}
	if s.Grades == nil {
		s.Grades = make(map[string]float64)
	}
	return nil
}

// internal/model/projection.go
package model

import "time"

// Read-side projections. These are rows of the per-tenant materialized
// views, so they can lag the event log; they are never written to
// directly by application code.

type DashboardSummary struct {
	StudentID       string     `db:"student_id"`
	CoursesEnrolled int        `db:"courses_enrolled"`
	GradesRecorded  int        `db:"grades_recorded"`
	AverageScore    *float64   `db:"average_score"`
	GPA             float64    `db:"-"`
	PercentileRank  float64    `db:"-"`
	LastActivity    *time.Time `db:"last_activity"`
}

type CourseSummary struct {
	CourseID        string   `db:"course_id"`
	CourseName      string   `db:"course_name"`
	Status          string   `db:"status"`
	Credits         int      `db:"credits"`
	EnrolledCount   int      `db:"enrolled_count"`
	GradedCount     int      `db:"graded_count"`
	ClassAverage    *float64 `db:"class_average"`
	AssignmentCount int      `db:"assignment_count"`
}

type StudentProgress struct {
	StudentID            string     `db:"student_id"`
	CourseID             string     `db:"course_id"`
	CourseName           string     `db:"course_name"`
	Credits              int        `db:"credits"`
	AssignmentsSubmitted int        `db:"assignments_submitted"`
	AverageScore         *float64   `db:"average_score"`
	LastGradedAt         *time.Time `db:"last_graded_at"`
}

package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

func TestCourseLifecycle(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	m := Meta{UserID: "registrar"}

	require.NoError(t, c.Create("Compilers", 4, m))
	require.Equal(t, CourseStatusActive, c.Status)
	require.Equal(t, int64(1), c.CurrentVersion())

	require.NoError(t, c.Update("Compilers", 5, m))
	require.Equal(t, 5, c.Credits)
	require.Equal(t, int64(2), c.CurrentVersion())

	require.NoError(t, c.Archive(m))
	require.Equal(t, CourseStatusArchived, c.Status)

	events := c.UncommittedEvents()
	require.Len(t, events, 3)
	require.Equal(t, model.EventCourseCreated, events[0].EventType)
	require.Equal(t, model.EventCourseUpdated, events[1].EventType)
	require.Equal(t, model.EventCourseArchived, events[2].EventType)
}

func TestCourseCreateTwice(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	require.NoError(t, c.Create("Compilers", 4, Meta{}))

	err := c.Create("Compilers", 4, Meta{})
	require.True(t, errs.IsKind(err, errs.KindConsistency))
}

func TestCourseCreateRequiresName(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	err := c.Create("", 4, Meta{})
	require.True(t, errs.IsKind(err, errs.KindValidation))
	require.Zero(t, c.CurrentVersion())
}

func TestCourseUpdateBeforeCreate(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	err := c.Update("Compilers", 4, Meta{})
	require.True(t, errs.IsKind(err, errs.KindConsistency))
}

func TestCourseUpdateArchived(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	require.NoError(t, c.Create("Compilers", 4, Meta{}))
	require.NoError(t, c.Archive(Meta{}))

	err := c.Update("Compilers II", 4, Meta{})
	require.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestCourseArchiveIdempotent(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	require.NoError(t, c.Create("Compilers", 4, Meta{}))
	require.NoError(t, c.Archive(Meta{}))
	require.NoError(t, c.Archive(Meta{}))

	require.Len(t, c.UncommittedEvents(), 2, "second archive must not emit")
	require.Equal(t, int64(2), c.CurrentVersion())
}

func TestCourseSnapshotRoundTrip(t *testing.T) {
	c := NewCourse("bgu1", "course-1")
	require.NoError(t, c.Create("Compilers", 4, Meta{}))
	require.NoError(t, c.Archive(Meta{}))

	data, err := c.SnapshotData()
	require.NoError(t, err)

	restored := NewCourse("bgu1", "course-1")
	require.NoError(t, restored.RestoreSnapshot(data, c.CurrentVersion()))
	restored.markRestored(c.CurrentVersion())

	require.Equal(t, c.Name, restored.Name)
	require.Equal(t, c.Credits, restored.Credits)
	require.Equal(t, c.Status, restored.Status)
	require.Equal(t, c.CurrentVersion(), restored.CurrentVersion())
}

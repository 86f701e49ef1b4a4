package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"academic-records/internal/model"
)

func score(s float64) *float64 { return &s }

func TestGPACreditWeighted(t *testing.T) {
	rows := []model.StudentProgress{
		{CourseID: "c1", Credits: 4, AverageScore: score(100)}, // 4.0
		{CourseID: "c2", Credits: 2, AverageScore: score(50)},  // 2.0
	}
	// (100*4 + 50*2) / 6 = 83.33 -> 3.33
	require.InDelta(t, 3.3333, GPA(rows), 0.001)
}

func TestGPASkipsUnscoredCourses(t *testing.T) {
	rows := []model.StudentProgress{
		{CourseID: "c1", Credits: 4, AverageScore: score(80)},
		{CourseID: "c2", Credits: 10, AverageScore: nil},
	}
	require.InDelta(t, 3.2, GPA(rows), 0.001)
}

func TestGPAZeroCreditCountsAsOne(t *testing.T) {
	rows := []model.StudentProgress{
		{CourseID: "seminar", Credits: 0, AverageScore: score(100)},
		{CourseID: "c1", Credits: 1, AverageScore: score(50)},
	}
	require.InDelta(t, 3.0, GPA(rows), 0.001)
}

func TestGPAEmpty(t *testing.T) {
	require.Zero(t, GPA(nil))
	require.Zero(t, GPA([]model.StudentProgress{{CourseID: "c1", Credits: 4}}))
}

func TestPercentileRank(t *testing.T) {
	cohort := []float64{50, 60, 70, 80, 90}
	require.InDelta(t, 60.0, PercentileRank(cohort, 70), 0.001)
	require.InDelta(t, 100.0, PercentileRank(cohort, 95), 0.001)
	require.InDelta(t, 0.0, PercentileRank(cohort, 10), 0.001)
	require.Zero(t, PercentileRank(nil, 70))
}

func TestClassAverage(t *testing.T) {
	require.InDelta(t, 70.0, ClassAverage([]float64{60, 70, 80}), 0.001)
	require.Zero(t, ClassAverage(nil))
}

func TestPaginationNormalize(t *testing.T) {
	cases := []struct {
		in, want Pagination
	}{
		{Pagination{}, Pagination{Offset: 0, Limit: 20}},
		{Pagination{Offset: -5, Limit: 0}, Pagination{Offset: 0, Limit: 20}},
		{Pagination{Offset: 40, Limit: 10}, Pagination{Offset: 40, Limit: 10}},
		{Pagination{Limit: 100}, Pagination{Limit: 100}},
		{Pagination{Limit: 500}, Pagination{Limit: 20}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.in.normalize(), "input %+v", tc.in)
	}
}

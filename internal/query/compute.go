// internal/query/compute.go
package query

import "academic-records/internal/model"

// Derived numerics are computed here, at query time, from view rows.
// Keeping them out of the views gives one recomputation point when the
// formulas change.

// GPA is the credit-weighted mean score mapped onto a 4.0 scale.
// Courses without a recorded score are excluded from the weighting.
func GPA(rows []model.StudentProgress) float64 {
	var weighted, credits float64
	for _, r := range rows {
		if r.AverageScore == nil {
			continue
		}
		w := float64(r.Credits)
		if w == 0 {
			w = 1
		}
		weighted += *r.AverageScore * w
		credits += w
	}
	if credits == 0 {
		return 0
	}
	return (weighted / credits) / 25.0
}

// PercentileRank is the share of cohort scores at or below the given
// score, in percent. An empty cohort ranks at zero.
func PercentileRank(cohort []float64, score float64) float64 {
	if len(cohort) == 0 {
		return 0
	}
	var below int
	for _, s := range cohort {
		if s <= score {
			below++
		}
	}
	return float64(below) / float64(len(cohort)) * 100
}

// ClassAverage is the plain mean of the recorded scores.
func ClassAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

package policy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"dag-learning/models"
)

type ComparisonType string

const (
	ComparisonThreshold   ComparisonType = "threshold"
	ComparisonStatistical ComparisonType = "statistical"
)

// Comparison decides whether a candidate model replaces the current one.
type Comparison interface {
	Type() ComparisonType
	Satisfied(prev, next models.EvalResult) bool
}

// NewComparison builds the variant called name. param is the margin for
// threshold and the required confidence for statistical.
func NewComparison(name ComparisonType, param float64) (Comparison, error) {
	switch name {
	case ComparisonThreshold:
		return Threshold{Margin: param}, nil
	case ComparisonStatistical:
		if param <= 0 || param >= 1 {
			return nil, fmt.Errorf("confidence %v outside (0, 1)", param)
		}
		return Statistical{Confidence: param}, nil
	default:
		return nil, fmt.Errorf("unknown comparison policy %q", name)
	}
}

// Threshold accepts a candidate whose accuracy is at least the previous one
// plus Margin. A negative margin tolerates regressions.
type Threshold struct {
	Margin float64
}

func (Threshold) Type() ComparisonType { return ComparisonThreshold }

func (c Threshold) Satisfied(prev, next models.EvalResult) bool {
	if !next.Valid {
		return false
	}
	if !prev.Valid {
		return true
	}
	return next.Accuracy >= prev.Accuracy+c.Margin
}

// Statistical runs a one-sided two-proportion z test and accepts when the
// candidate is better than the previous model with at least Confidence.
type Statistical struct {
	Confidence float64
}

func (Statistical) Type() ComparisonType { return ComparisonStatistical }

func (c Statistical) Satisfied(prev, next models.EvalResult) bool {
	if !next.Valid {
		return false
	}
	if !prev.Valid {
		return true
	}
	n1, n2 := float64(prev.Samples), float64(next.Samples)
	if n1 == 0 || n2 == 0 {
		return next.Accuracy >= prev.Accuracy
	}

	pooled := (prev.Accuracy*n1 + next.Accuracy*n2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return next.Accuracy >= prev.Accuracy
	}
	z := (next.Accuracy - prev.Accuracy) / se
	return distuv.UnitNormal.CDF(z) >= c.Confidence
}

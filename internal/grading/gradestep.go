package grading

import (
	"slices"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// sortedSteps returns the scale's steps ordered by ascending lower bound.
func sortedSteps(scale *model.GradingScale) []model.GradeStep {
	steps := slices.Clone(scale.GradeSteps)
	slices.SortStableFunc(steps, func(a, b model.GradeStep) int {
		switch {
		case a.LowerBoundPercentage < b.LowerBoundPercentage:
			return -1
		case a.LowerBoundPercentage > b.LowerBoundPercentage:
			return 1
		}
		return 0
	})
	return steps
}

// MatchGradeStep returns the step whose interval contains percentage, or nil.
// Steps are half-open [lower, upper). With TopStepUpperBoundInclusive the top step
// also takes its upper bound and everything above it.
func MatchGradeStep(scale *model.GradingScale, percentage float64) *model.GradeStep {
	if scale == nil || len(scale.GradeSteps) == 0 {
		return nil
	}
	steps := sortedSteps(scale)
	top := len(steps) - 1

	for i := range steps {
		s := &steps[i]
		if percentage < s.LowerBoundPercentage {
			continue
		}
		if percentage < s.UpperBoundPercentage {
			return s
		}
		if i == top && scale.TopStepUpperBoundInclusive {
			return s
		}
	}
	return nil
}

// stepWithLowerBoundZero is the step a non-participant falls into when no explicit
// no-participation grade is configured.
func stepWithLowerBoundZero(scale *model.GradingScale) *model.GradeStep {
	for _, s := range sortedSteps(scale) {
		if s.LowerBoundPercentage == 0 {
			return &s
		}
	}
	return nil
}

// ParseGradeNumeric reads a grade name such as "1.3" or "1,3" as a number.
func ParseGradeNumeric(name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(name), ",", "."), 64)
	if err != nil {
		return 0, apperror.InvalidConfig("grade %q is not numeric", name)
	}
	return v, nil
}

// gradeDirection describes a scale's numeric grade ordering.
type gradeDirection struct {
	best  float64
	worst float64
}

// lowerIsBetter reports the convention where the top step carries the smallest number (1.0 beats 5.0).
func (d gradeDirection) lowerIsBetter() bool { return d.best < d.worst }

// atLeast reports whether a is at least as good as b.
func (d gradeDirection) atLeast(a, b float64) bool {
	if d.lowerIsBetter() {
		return a <= b
	}
	return a >= b
}

// clamp limits v to the best grade, reporting whether it was exceeded.
func (d gradeDirection) clamp(v float64) (float64, bool) {
	if d.lowerIsBetter() && v < d.best {
		return d.best, true
	}
	if !d.lowerIsBetter() && v > d.best {
		return d.best, true
	}
	return v, false
}

func directionOf(scale *model.GradingScale) (gradeDirection, error) {
	steps := sortedSteps(scale)
	if len(steps) == 0 {
		return gradeDirection{}, apperror.InvalidConfig("grading scale %d has no grade steps", scale.ID)
	}
	best, err := ParseGradeNumeric(steps[len(steps)-1].GradeName)
	if err != nil {
		return gradeDirection{}, err
	}
	worst, err := ParseGradeNumeric(steps[0].GradeName)
	if err != nil {
		return gradeDirection{}, err
	}
	return gradeDirection{best: best, worst: worst}, nil
}

// lowestPassingNumeric is the numeric value of the worst grade that still passes.
func lowestPassingNumeric(scale *model.GradingScale) (float64, bool) {
	for _, s := range sortedSteps(scale) {
		if !s.IsPassingGrade {
			continue
		}
		v, err := ParseGradeNumeric(s.GradeName)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// formatGrade prints v with as many decimals as the template grade name uses.
func formatGrade(v float64, template string) string {
	decimals := 0
	if i := strings.IndexAny(template, ".,"); i >= 0 {
		decimals = len(template) - i - 1
	}
	return strconv.FormatFloat(RoundScore(v, decimals), 'f', decimals, 64)
}

package grading

import (
	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// BonusSource is everything needed to grade the bonus source of a Bonus link.
// Participations and plagiarism cases may contain other students.
type BonusSource struct {
	Bonus model.Bonus
	Scale *model.GradingScale
	// MaxPoints of the source; Scale.MaxPoints is used when zero.
	MaxPoints       float64
	Exercises       []model.Exercise
	Participations  []model.Participation
	PlagiarismCases []model.PlagiarismCase
}

// BonusResult reports how the bonus source changed a student's grade.
type BonusResult struct {
	Strategy     model.BonusStrategy `json:"bonus_strategy"`
	Weight       float64             `json:"weight"`
	SourcePoints float64             `json:"source_points"`
	BonusGrade   *string             `json:"bonus_grade"`
	BonusValue   float64             `json:"bonus_value"`
	FinalPoints  float64             `json:"final_points"`
	FinalScore   float64             `json:"final_score"`
	FinalGrade   *string             `json:"final_grade"`
	HasPassed    *bool               `json:"has_passed"`
	// ExceedsMax is set when the blended value was clamped to the best grade or max points.
	ExceedsMax bool `json:"exceeds_max"`
}

// SourceOutcome is the graded state of a student in a bonus source.
type SourceOutcome struct {
	Points       float64
	Participated bool
	Plagiarism   bool
}

// SourcePoints sums the student's achieved points over the source exercises using only the
// latest completed result of each exercise. PLAGIARISM zeroes everything, POINT_DEDUCTION
// reduces the affected exercise.
func SourcePoints(exercises []model.Exercise, participations []model.Participation, cases []model.PlagiarismCase, studentID int) SourceOutcome {
	byExercise := participationsOf(participations, studentID)
	verdicts := casesOf(cases, studentID)

	var out SourceOutcome
	for _, ex := range exercises {
		ps := byExercise[ex.ID]
		if len(ps) > 0 {
			out.Participated = true
		}
		if ex.IncludedInOverallScore == model.NotIncluded {
			continue
		}

		var pts float64
		if r := latestCompleted(ps); r != nil {
			pts = achievedPoints(ex, r.Score)
		}
		if c, ok := verdicts[ex.ID]; ok {
			switch c.Verdict {
			case model.VerdictPlagiarism:
				out.Plagiarism = true
			case model.VerdictPointDeduction:
				pts = deduct(pts, c.VerdictPointDeduction)
			}
		}
		out.Points += pts
	}
	if out.Plagiarism {
		out.Points = 0
	}
	return out
}

// bonusGrade maps the source outcome to a bonus grade name and its numeric value.
func bonusGrade(src *BonusSource, outcome SourceOutcome, accuracy int) (*string, float64, error) {
	scale := src.Scale
	switch {
	case outcome.Plagiarism:
		return ptr(scale.PlagiarismGradeOrDefault()), 0, nil
	case !outcome.Participated && scale.NoParticipationGrade != "":
		return ptr(scale.NoParticipationGrade), 0, nil
	case !outcome.Participated:
		step := stepWithLowerBoundZero(scale)
		if step == nil {
			return nil, 0, nil
		}
		v, err := ParseGradeNumeric(step.GradeName)
		return ptr(step.GradeName), v, err
	}

	maxPoints := src.MaxPoints
	if maxPoints == 0 {
		maxPoints = scale.MaxPoints
	}
	if maxPoints <= 0 {
		return nil, 0, apperror.InvalidConfig("bonus source scale %d has no positive max points", scale.ID)
	}
	pct := RoundScore(outcome.Points/maxPoints*100, accuracy)
	step := MatchGradeStep(scale, pct)
	if step == nil {
		return nil, 0, nil
	}
	v, err := ParseGradeNumeric(step.GradeName)
	return ptr(step.GradeName), v, err
}

// blend applies the bonus after target-side plagiarism deductions are already in res.
func blend(in StudentResultInput, res *StudentResult, targetStep *model.GradeStep) (*BonusResult, error) {
	src := in.Bonus
	if src.Scale == nil {
		return nil, apperror.InvalidConfig("bonus %d has no source grading scale", src.Bonus.ID)
	}

	outcome := SourcePoints(src.Exercises, src.Participations, src.PlagiarismCases, in.StudentExam.StudentID)
	grade, value, err := bonusGrade(src, outcome, in.Accuracy)
	if err != nil {
		return nil, err
	}

	br := &BonusResult{
		Strategy:     src.Bonus.BonusStrategy,
		Weight:       src.Bonus.Weight,
		SourcePoints: RoundScore(outcome.Points, in.Accuracy),
		BonusGrade:   grade,
		BonusValue:   value,
		FinalPoints:  res.OverallPoints,
		FinalScore:   res.OverallScore,
		FinalGrade:   res.Grade,
		HasPassed:    res.HasPassed,
	}

	// a voided target grade is never improved by a bonus
	if res.Plagiarism {
		return br, nil
	}

	switch src.Bonus.BonusStrategy {
	case model.BonusStrategyGradesContinuous:
		if targetStep == nil {
			return br, nil
		}
		return br, blendGrades(in.Scale, targetStep, br)
	case model.BonusStrategyPoints:
		blendPoints(in, br)
		return br, nil
	default:
		return nil, apperror.InvalidConfig("unknown bonus strategy %q", src.Bonus.BonusStrategy)
	}
}

func blendGrades(scale *model.GradingScale, targetStep *model.GradeStep, br *BonusResult) error {
	dir, err := directionOf(scale)
	if err != nil {
		return err
	}
	target, err := ParseGradeNumeric(targetStep.GradeName)
	if err != nil {
		return err
	}

	final, exceeded := dir.clamp(target + br.Weight*br.BonusValue)
	br.ExceedsMax = exceeded
	br.FinalGrade = ptr(formatGrade(final, targetStep.GradeName))

	passed := targetStep.IsPassingGrade
	if !passed {
		if limit, ok := lowestPassingNumeric(scale); ok {
			passed = dir.atLeast(final, limit)
		}
	}
	br.HasPassed = &passed
	return nil
}

func blendPoints(in StudentResultInput, br *BonusResult) {
	maxPoints := float64(in.Exam.ExamMaxPoints)
	final := RoundScore(br.FinalPoints+br.Weight*br.BonusValue, in.Accuracy)
	if final > maxPoints {
		final = maxPoints
		br.ExceedsMax = true
	}
	if final < 0 {
		final = 0
	}
	br.FinalPoints = final
	br.FinalScore = RoundScore(final/maxPoints*100, in.Accuracy)

	br.FinalGrade, br.HasPassed = nil, nil
	if step := MatchGradeStep(in.Scale, br.FinalScore); step != nil {
		br.FinalGrade = ptr(step.GradeName)
		br.HasPassed = ptr(step.IsPassingGrade)
	}
}

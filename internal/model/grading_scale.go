package model

import "github.com/google/uuid"

const (
	// DefaultPlagiarismGrade is assigned when a plagiarism verdict voids a grade.
	DefaultPlagiarismGrade = "U"
	// DefaultNoParticipationGrade is assigned when a student did not take part.
	DefaultNoParticipationGrade = "X"
)

// GradeType tells whether a scale yields grades or only bonus values.
type GradeType string

const (
	GradeTypeGrade GradeType = "GRADE"
	GradeTypeBonus GradeType = "BONUS"
)

// BonusStrategy is the policy for blending a bonus source into a target scale.
type BonusStrategy string

const (
	BonusStrategyPoints           BonusStrategy = "POINTS"
	BonusStrategyGradesContinuous BonusStrategy = "GRADES_CONTINUOUS"
)

// GradeStep is a half-open percentage interval [Lower, Upper) mapped to a grade name.
type GradeStep struct {
	ID                   int64   `json:"id" yaml:"-"`
	LowerBoundPercentage float64 `json:"lower_bound_percentage" yaml:"lower"`
	UpperBoundPercentage float64 `json:"upper_bound_percentage" yaml:"upper"`
	GradeName            string  `json:"grade_name" yaml:"grade"`
	IsPassingGrade       bool    `json:"is_passing_grade" yaml:"passing"`
}

// GradingScale belongs to either a course or an exam.
type GradingScale struct {
	ID            int64          `json:"id" yaml:"-"`
	CourseID      *int64         `json:"course_id,omitempty" yaml:"course_id,omitempty"`
	ExamID        *uuid.UUID     `json:"exam_id,omitempty" yaml:"exam_id,omitempty"`
	GradeType     GradeType      `json:"grade_type" yaml:"grade_type"`
	BonusStrategy *BonusStrategy `json:"bonus_strategy,omitempty" yaml:"bonus_strategy,omitempty"`
	// MaxPoints is the reachable points of a course scale; exam scales use the exam's max points.
	MaxPoints            float64     `json:"max_points" yaml:"max_points"`
	PlagiarismGrade      string      `json:"plagiarism_grade" yaml:"plagiarism_grade"`
	NoParticipationGrade string      `json:"no_participation_grade" yaml:"no_participation_grade"`
	// TopStepUpperBoundInclusive makes the highest step include its upper bound ("sticky" step).
	TopStepUpperBoundInclusive bool        `json:"top_step_upper_bound_inclusive" yaml:"top_step_inclusive"`
	GradeSteps                 []GradeStep `json:"grade_steps" yaml:"steps"`
}

// PlagiarismGradeOrDefault returns the configured plagiarism grade or DefaultPlagiarismGrade.
func (s *GradingScale) PlagiarismGradeOrDefault() string {
	if s.PlagiarismGrade != "" {
		return s.PlagiarismGrade
	}
	return DefaultPlagiarismGrade
}

// Bonus links a source grading scale to a target grading scale.
type Bonus struct {
	ID                   int64         `json:"id"`
	SourceGradingScaleID int64         `json:"source_grading_scale_id"`
	TargetGradingScaleID int64         `json:"target_grading_scale_id"`
	Weight               float64       `json:"weight"`
	BonusStrategy        BonusStrategy `json:"bonus_strategy"`
}

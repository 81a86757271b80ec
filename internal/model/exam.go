package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is the aggregate root of the conduction engine.
// Durations (WorkingTime, GracePeriod) are stored in seconds.
type Exam struct {
	ID                             uuid.UUID       `json:"id"`
	CourseID                       int64           `json:"course_id"`
	Title                          string          `json:"title"`
	TestExam                       bool            `json:"test_exam"`
	VisibleDate                    time.Time       `json:"visible_date"`
	StartDate                      time.Time       `json:"start_date"`
	EndDate                        time.Time       `json:"end_date"`
	WorkingTime                    *int            `json:"working_time,omitempty"`
	GracePeriod                    int             `json:"grace_period"`
	NumberOfExercisesInExam        *int            `json:"number_of_exercises_in_exam,omitempty"`
	NumberOfCorrectionRoundsInExam int             `json:"number_of_correction_rounds_in_exam"`
	ExamMaxPoints                  int             `json:"exam_max_points"`
	RandomizeExerciseOrder         bool            `json:"randomize_exercise_order"`
	ExerciseGroups                 []ExerciseGroup `json:"exercise_groups,omitempty"`
	QuizPool                       *QuizPool       `json:"quiz_pool,omitempty"`
	CreatedAt                      time.Time       `json:"created_at"`
	UpdatedAt                      time.Time       `json:"updated_at"`
}

// HasMultipleCorrectionRounds reports whether results must be selected per correction round.
func (e *Exam) HasMultipleCorrectionRounds() bool {
	return e.NumberOfCorrectionRoundsInExam > 1
}

// IncludedInOverallScore controls how an exercise contributes to the exam total.
type IncludedInOverallScore string

const (
	IncludedCompletely IncludedInOverallScore = "INCLUDED_COMPLETELY"
	IncludedAsBonus    IncludedInOverallScore = "INCLUDED_AS_BONUS"
	NotIncluded        IncludedInOverallScore = "NOT_INCLUDED"
)

// Exercise is a single candidate inside an exercise group.
type Exercise struct {
	ID                     int64                  `json:"id"`
	ExerciseGroupID        int64                  `json:"exercise_group_id"`
	Title                  string                 `json:"title"`
	MaxPoints              float64                `json:"max_points"`
	BonusPoints            float64                `json:"bonus_points"`
	IncludedInOverallScore IncludedInOverallScore `json:"included_in_overall_score"`
}

// ExerciseGroup is a slot of an exam filled by exactly one of its exercises per participant.
type ExerciseGroup struct {
	ID        int64      `json:"id"`
	ExamID    uuid.UUID  `json:"exam_id"`
	Title     string     `json:"title"`
	Mandatory bool       `json:"mandatory"`
	Position  int        `json:"position"`
	Exercises []Exercise `json:"exercises"`
}

// UpdateExamRequest is the payload for rescheduling an exam.
type UpdateExamRequest struct {
	Title       string    `json:"title" binding:"required,min=3,max=255"`
	VisibleDate time.Time `json:"visible_date" binding:"required"`
	StartDate   time.Time `json:"start_date" binding:"required,gtfield=VisibleDate"`
	EndDate     time.Time `json:"end_date" binding:"required,gtfield=StartDate"`
	WorkingTime *int      `json:"working_time" binding:"omitempty,min=1"`
	GracePeriod int       `json:"grace_period" binding:"min=0,max=3600"`
}

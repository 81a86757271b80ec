package model

import (
	"time"

	"github.com/google/uuid"
)

// StudentExam is one participant's individualized instantiation of an exam.
// It references exercises and quiz questions by ID and never owns them.
type StudentExam struct {
	ID              uuid.UUID  `json:"id"`
	ExamID          uuid.UUID  `json:"exam_id"`
	StudentID       int        `json:"student_id"`
	TestRun         bool       `json:"test_run"`
	ExerciseIDs     []int64    `json:"exercise_ids"`
	QuizQuestionIDs []int64    `json:"quiz_question_ids"`
	WorkingTime     *int       `json:"working_time,omitempty"`
	Started         bool       `json:"started"`
	StartedDate     *time.Time `json:"started_date,omitempty"`
	Submitted       bool       `json:"submitted"`
	SubmissionDate  *time.Time `json:"submission_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UpdateWorkingTimeRequest sets an individual working-time override (seconds).
type UpdateWorkingTimeRequest struct {
	WorkingTime int `json:"working_time" binding:"required,min=1"`
}

// CreateTestRunRequest is the payload for a staff-owned test run.
type CreateTestRunRequest struct {
	ExerciseIDs []int64 `json:"exercise_ids" binding:"required,min=1,dive,min=1"`
	WorkingTime int     `json:"working_time" binding:"required,min=1"`
}

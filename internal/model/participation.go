package model

import "time"

// Participation is a student's participation in one exercise.
// Results are ordered oldest to latest.
type Participation struct {
	ID         int64    `json:"id"`
	ExerciseID int64    `json:"exercise_id"`
	StudentID  int      `json:"student_id"`
	Results    []Result `json:"results"`
}

// Result is a (possibly in-progress) assessment of a participation.
// A nil CompletionDate means the assessment is not finished yet.
type Result struct {
	ID              int64      `json:"id"`
	ParticipationID int64      `json:"participation_id"`
	Score           float64    `json:"score"`
	CompletionDate  *time.Time `json:"completion_date,omitempty"`
}

// ParticipationCleanup asks for the deletion of a student's participations in superseded exercises.
type ParticipationCleanup struct {
	StudentID   int     `json:"student_id"`
	ExerciseIDs []int64 `json:"exercise_ids"`
}

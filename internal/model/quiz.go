package model

import "github.com/google/uuid"

// QuizPool is the exam-wide bank of quiz questions.
type QuizPool struct {
	ID                 int64          `json:"id"`
	ExamID             uuid.UUID      `json:"exam_id"`
	Groups             []QuizGroup    `json:"groups"`
	UngroupedQuestions []QuizQuestion `json:"ungrouped_questions"`
}

// IsEmpty reports whether the pool has neither groups nor ungrouped questions.
func (p *QuizPool) IsEmpty() bool {
	return p == nil || (len(p.Groups) == 0 && len(p.UngroupedQuestions) == 0)
}

// QuizGroup is a named partition of the pool; each participant receives one of its questions.
type QuizGroup struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Questions []QuizQuestion `json:"questions"`
}

// QuizQuestion is a single pool question. QuizGroupID is nil for ungrouped questions.
type QuizQuestion struct {
	ID          int64   `json:"id"`
	QuizGroupID *int64  `json:"quiz_group_id,omitempty"`
	Title       string  `json:"title"`
	Points      float64 `json:"points"`
}

package websocket

import "github.com/stemsi/exstem-engine/internal/workingtime"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart  Action = "start"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError       Event = "error"
	EventStarted     Event = "started"
	EventSubmitted   Event = "submitted"
	EventWorkingTime Event = "working_time"
	EventPong        Event = "pong"
)

// StartedResponse carries the individual deadline once the student exam is started.
type StartedResponse struct {
	Event           Event   `json:"event"`
	StudentExamID   string  `json:"student_exam_id"`
	ExerciseIDs     []int64 `json:"exercise_ids"`
	QuizQuestionIDs []int64 `json:"quiz_question_ids"`
	WorkingTime     int     `json:"working_time"`
	EndDate         int64   `json:"end_date"`
}

// SubmittedResponse confirms a submission.
type SubmittedResponse struct {
	Event          Event `json:"event"`
	SubmissionDate int64 `json:"submission_date"`
}

// WorkingTimeResponse forwards a working-time change announced while the exam runs.
type WorkingTimeResponse struct {
	Event Event `json:"event"`
	workingtime.Change
	EndDate int64 `json:"end_date"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

// The stores below are satisfied by the pgx repositories; services depend on
// the narrow method sets they call.

type examStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetWithExercises(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	UpdateSchedule(ctx context.Context, e *model.Exam) error
	ListRegisteredStudents(ctx context.Context, examID uuid.UUID) ([]int, error)
}

type studentExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.StudentExam, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StudentExam, error)
	CreateBatch(ctx context.Context, studentExams []*model.StudentExam) ([]uuid.UUID, error)
	ReplaceRoster(ctx context.Context, regenerated, created []*model.StudentExam, removed []uuid.UUID) ([]uuid.UUID, error)
	UpdateWorkingTime(ctx context.Context, id uuid.UUID, seconds int) error
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type participationStore interface {
	CreateBatch(ctx context.Context, studentID int, exerciseIDs []int64) error
	ListWithResults(ctx context.Context, exerciseIDs []int64) ([]model.Participation, error)
}

type gradingScaleStore interface {
	GetByID(ctx context.Context, id int64) (*model.GradingScale, error)
	GetByExam(ctx context.Context, examID uuid.UUID) (*model.GradingScale, error)
	GetBonusByTarget(ctx context.Context, targetScaleID int64) (*model.Bonus, error)
	ListCourseExercises(ctx context.Context, courseID int64) ([]model.Exercise, error)
	Upsert(ctx context.Context, s *model.GradingScale) (int64, error)
	UpsertBonus(ctx context.Context, b *model.Bonus) error
}

type plagiarismStore interface {
	ListByExercises(ctx context.Context, exerciseIDs []int64) ([]model.PlagiarismCase, error)
}

type examSessionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error)
}

// Notifier announces working-time changes to running participants.
// Delivery is outside the engine; implementations only publish.
type Notifier interface {
	NotifyExamWorkingTime(ctx context.Context, examID uuid.UUID, changes []workingtime.Change) error
	NotifyStudentExamWorkingTime(ctx context.Context, change workingtime.Change) error
}

// Locker grants a mutually exclusive lease on a key.
type Locker interface {
	// Acquire returns apperror.ErrGenerationInProgress when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Queue hands payloads to background workers.
type Queue interface {
	Push(ctx context.Context, queue string, payloads ...any) error
}

// Publisher fans messages out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Cache stores JSON-encodable values for a short time.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

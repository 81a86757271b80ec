package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/examgen"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

// Conduction errors
var (
	ErrNotStudentExamOwner = errors.New("student exam belongs to another student")
	ErrExamNotStarted      = errors.New("exam has not started yet")
	ErrExamOver            = errors.New("working time is over")
	ErrAlreadySubmitted    = errors.New("student exam already submitted")
)

// StudentExamService generates student exams and drives their conduction.
type StudentExamService struct {
	examRepo          examStore
	studentExamRepo   studentExamStore
	participationRepo participationStore
	gen               *examgen.Generator
	locker            Locker
	queue             Queue
	lockTTL           time.Duration
	now               func() time.Time
	log               zerolog.Logger
}

// NewStudentExamService creates a new StudentExamService.
func NewStudentExamService(
	examRepo examStore,
	studentExamRepo studentExamStore,
	participationRepo participationStore,
	gen *examgen.Generator,
	locker Locker,
	queue Queue,
	lockTTL time.Duration,
	log zerolog.Logger,
) *StudentExamService {
	return &StudentExamService{
		examRepo:          examRepo,
		studentExamRepo:   studentExamRepo,
		participationRepo: participationRepo,
		gen:               gen,
		locker:            locker,
		queue:             queue,
		lockTTL:           lockTTL,
		now:               time.Now,
		log:               log.With().Str("component", "student_exam_service").Logger(),
	}
}

// GenerationResult summarizes a generation run.
type GenerationResult struct {
	Created     []*model.StudentExam `json:"created"`
	Regenerated []*model.StudentExam `json:"regenerated"`
	Removed     []uuid.UUID          `json:"removed"`
}

// withLock serializes generation per exam across instances.
func (s *StudentExamService) withLock(ctx context.Context, examID uuid.UUID, fn func() error) error {
	release, err := s.locker.Acquire(ctx, config.CacheKey.GenerationLockKey(examID.String()), s.lockTTL)
	if err != nil {
		return err
	}
	defer func() {
		// the request context may already be gone
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to release generation lock")
		}
	}()
	return fn()
}

// GenerateMissing creates student exams for registered participants without one.
// Nothing is persisted when the exam configuration is invalid.
func (s *StudentExamService) GenerateMissing(ctx context.Context, examID uuid.UUID) (*GenerationResult, error) {
	out := &GenerationResult{}
	err := s.withLock(ctx, examID, func() error {
		exam, registered, existing, err := s.loadRoster(ctx, examID)
		if err != nil {
			return err
		}

		generated, err := s.gen.GenerateMissingStudentExams(ctx, exam, registered, existing)
		if err != nil {
			return err
		}
		out.Created, err = s.persistCreated(ctx, generated)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("created", len(out.Created)).
		Msg("Generated missing student exams")
	return out, nil
}

// GenerateAll regenerates every participant's student exam, creates missing ones and removes
// those of deregistered participants. Only allowed before the exam starts.
func (s *StudentExamService) GenerateAll(ctx context.Context, examID uuid.UUID) (*GenerationResult, error) {
	out := &GenerationResult{}
	err := s.withLock(ctx, examID, func() error {
		exam, registered, existing, err := s.loadRoster(ctx, examID)
		if err != nil {
			return err
		}
		if !s.now().Before(exam.StartDate) {
			return apperror.InvalidArgument("exam %s has already started, student exams can no longer be regenerated", examID)
		}

		roster, err := s.gen.GenerateStudentExams(ctx, exam, registered, existing)
		if err != nil {
			return err
		}

		removed := make([]uuid.UUID, 0, len(roster.Deregistered))
		for _, se := range roster.Deregistered {
			removed = append(removed, se.ID)
		}
		inserted, err := s.studentExamRepo.ReplaceRoster(ctx, roster.Regenerated, roster.Created, removed)
		if err != nil {
			return fmt.Errorf("replace roster: %w", err)
		}
		out.Regenerated, out.Removed = roster.Regenerated, removed
		out.Created = s.keepInserted(roster.Created, inserted)

		s.enqueueCleanup(ctx, staleParticipations(roster))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("created", len(out.Created)).
		Int("regenerated", len(out.Regenerated)).
		Int("removed", len(out.Removed)).
		Msg("Regenerated student exams")
	return out, nil
}

// CreateTestRun builds and persists a staff-owned test run with participations prepared.
func (s *StudentExamService) CreateTestRun(ctx context.Context, examID uuid.UUID, instructorID int, req model.CreateTestRunRequest) (*model.StudentExam, error) {
	exam, err := s.examRepo.GetWithExercises(ctx, examID)
	if err != nil {
		return nil, err
	}
	se, err := s.gen.GenerateTestRun(exam, instructorID, req.ExerciseIDs, req.WorkingTime)
	if err != nil {
		return nil, err
	}
	if _, err := s.studentExamRepo.CreateBatch(ctx, []*model.StudentExam{se}); err != nil {
		return nil, fmt.Errorf("create test run: %w", err)
	}
	if err := s.PrepareExerciseStart(ctx, se); err != nil {
		return nil, err
	}

	s.log.Info().Str("exam_id", examID.String()).Int("instructor_id", instructorID).Msg("Test run created")
	return se, nil
}

// PrepareExerciseStart makes sure a participation exists for every selected exercise.
// It is idempotent.
func (s *StudentExamService) PrepareExerciseStart(ctx context.Context, se *model.StudentExam) error {
	if err := s.participationRepo.CreateBatch(ctx, se.StudentID, se.ExerciseIDs); err != nil {
		return fmt.Errorf("prepare exercise start: %w", err)
	}
	return nil
}

// Conduction is a student exam together with its exam and individual deadline.
type Conduction struct {
	Exam        *model.Exam
	StudentExam *model.StudentExam
	EndDate     time.Time
}

// Load returns the student's own student exam for conduction.
func (s *StudentExamService) Load(ctx context.Context, studentExamID uuid.UUID, studentID int) (*Conduction, error) {
	se, err := s.studentExamRepo.GetByID(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	if se.StudentID != studentID {
		return nil, ErrNotStudentExamOwner
	}
	exam, err := s.examRepo.GetByID(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}
	return &Conduction{Exam: exam, StudentExam: se, EndDate: s.endDate(exam, se)}, nil
}

// Start opens the student exam for the participant. Starting again is idempotent.
func (s *StudentExamService) Start(ctx context.Context, studentExamID uuid.UUID, studentID int) (*Conduction, error) {
	c, err := s.Load(ctx, studentExamID, studentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	se := c.StudentExam
	switch {
	case se.Submitted:
		return nil, ErrAlreadySubmitted
	case !se.TestRun && now.Before(c.Exam.StartDate):
		return nil, ErrExamNotStarted
	case !se.TestRun && workingtime.IsStudentExamOver(c.Exam, se, now):
		return nil, ErrExamOver
	}

	if err := s.PrepareExerciseStart(ctx, se); err != nil {
		return nil, err
	}
	if err := s.studentExamRepo.MarkStarted(ctx, se.ID, now); err != nil {
		return nil, fmt.Errorf("mark started: %w", err)
	}
	if !se.Started {
		se.Started, se.StartedDate = true, &now
	}
	c.EndDate = s.endDate(c.Exam, se)
	return c, nil
}

// Submit hands in the student exam. Late submissions within the grace period are accepted.
func (s *StudentExamService) Submit(ctx context.Context, studentExamID uuid.UUID, studentID int) (*model.StudentExam, error) {
	c, err := s.Load(ctx, studentExamID, studentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	se := c.StudentExam
	if !se.TestRun && workingtime.IsStudentExamOver(c.Exam, se, now) {
		return nil, ErrExamOver
	}

	ok, err := s.studentExamRepo.MarkSubmitted(ctx, se.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !ok {
		return nil, ErrAlreadySubmitted
	}
	se.Submitted, se.SubmissionDate = true, &now

	s.log.Info().
		Str("student_exam_id", se.ID.String()).
		Int("student_id", studentID).
		Msg("Student exam submitted")
	return se, nil
}

// endDate is the individual deadline; test runs count from their own start.
func (s *StudentExamService) endDate(exam *model.Exam, se *model.StudentExam) time.Time {
	if !se.TestRun {
		return workingtime.IndividualEndDate(exam, se)
	}
	start := s.now()
	if se.StartedDate != nil {
		start = *se.StartedDate
	}
	return start.Add(time.Duration(workingtime.EffectiveWorkingTimeSeconds(exam, se)) * time.Second)
}

func (s *StudentExamService) loadRoster(ctx context.Context, examID uuid.UUID) (*model.Exam, []int, []model.StudentExam, error) {
	exam, err := s.examRepo.GetWithExercises(ctx, examID)
	if err != nil {
		return nil, nil, nil, err
	}
	registered, err := s.examRepo.ListRegisteredStudents(ctx, examID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list registered students: %w", err)
	}
	existing, err := s.studentExamRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list student exams: %w", err)
	}
	return exam, registered, existing, nil
}

// persistCreated stores new student exams and returns those actually inserted.
func (s *StudentExamService) persistCreated(ctx context.Context, generated []*model.StudentExam) ([]*model.StudentExam, error) {
	inserted, err := s.studentExamRepo.CreateBatch(ctx, generated)
	if err != nil {
		return nil, fmt.Errorf("persist student exams: %w", err)
	}
	return s.keepInserted(generated, inserted), nil
}

// keepInserted drops generated student exams that lost to a concurrently stored one.
func (s *StudentExamService) keepInserted(generated []*model.StudentExam, inserted []uuid.UUID) []*model.StudentExam {
	if len(inserted) == len(generated) {
		return generated
	}
	out := make([]*model.StudentExam, 0, len(inserted))
	for _, se := range generated {
		if slices.Contains(inserted, se.ID) {
			out = append(out, se)
		}
	}
	s.log.Warn().Int("skipped", len(generated)-len(out)).Msg("Student exams already existed")
	return out
}

// staleParticipations lists the participations a roster regeneration made obsolete.
func staleParticipations(roster *examgen.Roster) []model.ParticipationCleanup {
	var out []model.ParticipationCleanup
	for _, se := range roster.Regenerated {
		var stale []int64
		for _, id := range roster.Superseded[se.ID] {
			if !slices.Contains(se.ExerciseIDs, id) {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			out = append(out, model.ParticipationCleanup{StudentID: se.StudentID, ExerciseIDs: stale})
		}
	}
	for _, se := range roster.Deregistered {
		if len(se.ExerciseIDs) > 0 {
			out = append(out, model.ParticipationCleanup{StudentID: se.StudentID, ExerciseIDs: se.ExerciseIDs})
		}
	}
	return out
}

func (s *StudentExamService) enqueueCleanup(ctx context.Context, cleanups []model.ParticipationCleanup) {
	if len(cleanups) == 0 {
		return
	}
	payloads := make([]any, len(cleanups))
	for i, c := range cleanups {
		payloads[i] = c
	}
	if err := s.queue.Push(ctx, config.WorkerKey.DeleteParticipationsQueue, payloads...); err != nil {
		s.log.Error().Err(err).Int("count", len(cleanups)).Msg("Failed to enqueue participation cleanup")
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

// ExamService handles exam scheduling and working-time adjustments.
type ExamService struct {
	examRepo        examStore
	studentExamRepo studentExamStore
	notifier        Notifier
	now             func() time.Time
	log             zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo examStore,
	studentExamRepo studentExamStore,
	notifier Notifier,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:        examRepo,
		studentExamRepo: studentExamRepo,
		notifier:        notifier,
		now:             time.Now,
		log:             log.With().Str("component", "exam_service").Logger(),
	}
}

// ExamOverview is an exam with its conduction window.
type ExamOverview struct {
	*model.Exam
	StudentExams            int       `json:"student_exams"`
	TestRuns                int       `json:"test_runs"`
	LatestIndividualEndDate time.Time `json:"latest_individual_end_date"`
	Over                    bool      `json:"over"`
}

// Overview loads an exam with its exercise groups and derives the conduction window.
func (s *ExamService) Overview(ctx context.Context, examID uuid.UUID) (*ExamOverview, error) {
	exam, err := s.examRepo.GetWithExercises(ctx, examID)
	if err != nil {
		return nil, err
	}
	studentExams, err := s.studentExamRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list student exams: %w", err)
	}

	out := &ExamOverview{
		Exam:                    exam,
		LatestIndividualEndDate: workingtime.LatestIndividualEndDate(exam, studentExams),
		Over:                    workingtime.IsExamWithGracePeriodOver(exam, s.now()),
	}
	for _, se := range studentExams {
		if se.TestRun {
			out.TestRuns++
		} else {
			out.StudentExams++
		}
	}
	return out, nil
}

// ExamUpdate is the outcome of rescheduling an exam.
type ExamUpdate struct {
	Exam     *model.Exam          `json:"exam"`
	Notified bool                 `json:"notified"`
	Changes  []workingtime.Change `json:"changes"`
}

// UpdateExam applies a reschedule and notifies running participants exactly once
// when the update is relevant to them.
func (s *ExamService) UpdateExam(ctx context.Context, examID uuid.UUID, req model.UpdateExamRequest) (*ExamUpdate, error) {
	before, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	after := *before
	after.Title = req.Title
	after.VisibleDate = req.VisibleDate
	after.StartDate = req.StartDate
	after.EndDate = req.EndDate
	after.WorkingTime = req.WorkingTime
	after.GracePeriod = req.GracePeriod

	if err := s.examRepo.UpdateSchedule(ctx, &after); err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}

	studentExams, err := s.studentExamRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list student exams: %w", err)
	}

	impact := workingtime.RescheduleImpact(before, &after, studentExams)
	out := &ExamUpdate{Exam: &after, Changes: impact.Changes}
	if !impact.Notify {
		return out, nil
	}

	if err := s.notifier.NotifyExamWorkingTime(ctx, examID, impact.Changes); err != nil {
		// the reschedule is already persisted
		s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to announce reschedule")
		return out, nil
	}
	out.Notified = true
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_exams", len(impact.Changes)).
		Msg("Reschedule announced")
	return out, nil
}

// UpdateWorkingTime sets an individual working-time override and announces the change.
func (s *ExamService) UpdateWorkingTime(ctx context.Context, studentExamID uuid.UUID, seconds int) (*workingtime.Change, error) {
	se, err := s.studentExamRepo.GetByID(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	exam, err := s.examRepo.GetByID(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}

	change := workingtime.Change{
		StudentExamID:  se.ID,
		StudentID:      se.StudentID,
		OldWorkingTime: workingtime.EffectiveWorkingTimeSeconds(exam, se),
		NewWorkingTime: seconds,
	}
	if err := s.studentExamRepo.UpdateWorkingTime(ctx, se.ID, seconds); err != nil {
		return nil, fmt.Errorf("update working time: %w", err)
	}

	if change.OldWorkingTime != change.NewWorkingTime && se.Started && !se.Submitted {
		if err := s.notifier.NotifyStudentExamWorkingTime(ctx, change); err != nil {
			s.log.Error().Err(err).Str("student_exam_id", se.ID.String()).Msg("Failed to announce working time")
		}
	}
	return &change, nil
}

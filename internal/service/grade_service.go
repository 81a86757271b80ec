package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
)

// scoresTTL bounds how stale cached exam scores may be.
const scoresTTL = 30 * time.Second

// GradeService loads grading inputs and runs the grade aggregator.
type GradeService struct {
	examRepo          examStore
	studentExamRepo   studentExamStore
	participationRepo participationStore
	scaleRepo         gradingScaleStore
	plagiarismRepo    plagiarismStore
	cache             Cache
	accuracy          int
	log               zerolog.Logger
}

// NewGradeService creates a new GradeService. cache may be nil.
func NewGradeService(
	examRepo examStore,
	studentExamRepo studentExamStore,
	participationRepo participationStore,
	scaleRepo gradingScaleStore,
	plagiarismRepo plagiarismStore,
	cache Cache,
	accuracy int,
	log zerolog.Logger,
) *GradeService {
	return &GradeService{
		examRepo:          examRepo,
		studentExamRepo:   studentExamRepo,
		participationRepo: participationRepo,
		scaleRepo:         scaleRepo,
		plagiarismRepo:    plagiarismRepo,
		cache:             cache,
		accuracy:          accuracy,
		log:               log.With().Str("component", "grade_service").Logger(),
	}
}

// ScoresQuery selects the correction round and whether cached scores may be served.
type ScoresQuery struct {
	CorrectionRound *int
	Refresh         bool
}

// ExamScores grades every participant of the exam.
func (s *GradeService) ExamScores(ctx context.Context, examID uuid.UUID, q ScoresQuery) (*grading.ExamScores, error) {
	round := "latest"
	if q.CorrectionRound != nil {
		round = strconv.Itoa(*q.CorrectionRound)
	}
	key := config.CacheKey.ExamScoresKey(examID.String(), round)

	if s.cache != nil && !q.Refresh {
		var cached grading.ExamScores
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Score cache unavailable")
		} else if hit {
			return &cached, nil
		}
	}

	in, err := s.loadInput(ctx, examID)
	if err != nil {
		return nil, err
	}
	in.CorrectionRound = q.CorrectionRound

	scores, err := grading.ComputeExamScores(*in)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, scores, scoresTTL); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache scores")
		}
	}
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("participants", scores.Statistics.Participants).
		Msg("Exam scores computed")
	return scores, nil
}

// StudentResult grades a single student exam.
func (s *GradeService) StudentResult(ctx context.Context, studentExamID uuid.UUID, correctionRound *int) (*grading.StudentResult, error) {
	se, err := s.studentExamRepo.GetByID(ctx, studentExamID)
	if err != nil {
		return nil, err
	}
	in, err := s.loadInput(ctx, se.ExamID)
	if err != nil {
		return nil, err
	}
	return grading.ComputeStudentResult(grading.StudentResultInput{
		Exam:            in.Exam,
		StudentExam:     se,
		Participations:  in.Participations,
		PlagiarismCases: in.PlagiarismCases,
		CorrectionRound: correctionRound,
		Accuracy:        in.Accuracy,
		Scale:           in.Scale,
		Bonus:           in.Bonus,
	})
}

func (s *GradeService) loadInput(ctx context.Context, examID uuid.UUID) (*grading.ExamScoresInput, error) {
	exam, err := s.examRepo.GetWithExercises(ctx, examID)
	if err != nil {
		return nil, err
	}
	studentExams, err := s.studentExamRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list student exams: %w", err)
	}

	exerciseIDs := examExerciseIDs(exam)
	participations, err := s.participationRepo.ListWithResults(ctx, exerciseIDs)
	if err != nil {
		return nil, err
	}
	cases, err := s.plagiarismRepo.ListByExercises(ctx, exerciseIDs)
	if err != nil {
		return nil, fmt.Errorf("list plagiarism cases: %w", err)
	}

	in := &grading.ExamScoresInput{
		Exam:            exam,
		StudentExams:    studentExams,
		Participations:  participations,
		PlagiarismCases: cases,
		Accuracy:        s.accuracy,
	}

	scale, err := s.scaleRepo.GetByExam(ctx, examID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return in, nil
	case err != nil:
		return nil, fmt.Errorf("load grading scale: %w", err)
	}
	in.Scale = scale

	in.Bonus, err = s.loadBonus(ctx, scale)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// loadBonus returns nil when the scale is not the target of a bonus.
func (s *GradeService) loadBonus(ctx context.Context, target *model.GradingScale) (*grading.BonusSource, error) {
	bonus, err := s.scaleRepo.GetBonusByTarget(ctx, target.ID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load bonus: %w", err)
	}

	source, err := s.scaleRepo.GetByID(ctx, bonus.SourceGradingScaleID)
	if err != nil {
		return nil, fmt.Errorf("load bonus source scale: %w", err)
	}
	src := &grading.BonusSource{Bonus: *bonus, Scale: source}

	switch {
	case source.CourseID != nil:
		src.Exercises, err = s.scaleRepo.ListCourseExercises(ctx, *source.CourseID)
		if err != nil {
			return nil, fmt.Errorf("list course exercises: %w", err)
		}
	case source.ExamID != nil:
		exam, err := s.examRepo.GetWithExercises(ctx, *source.ExamID)
		if err != nil {
			return nil, fmt.Errorf("load bonus source exam: %w", err)
		}
		for _, g := range exam.ExerciseGroups {
			src.Exercises = append(src.Exercises, g.Exercises...)
		}
		src.MaxPoints = float64(exam.ExamMaxPoints)
	}

	ids := make([]int64, len(src.Exercises))
	for i, ex := range src.Exercises {
		ids[i] = ex.ID
	}
	if src.Participations, err = s.participationRepo.ListWithResults(ctx, ids); err != nil {
		return nil, err
	}
	if src.PlagiarismCases, err = s.plagiarismRepo.ListByExercises(ctx, ids); err != nil {
		return nil, fmt.Errorf("list bonus plagiarism cases: %w", err)
	}
	return src, nil
}

func examExerciseIDs(exam *model.Exam) []int64 {
	var ids []int64
	for _, g := range exam.ExerciseGroups {
		for _, ex := range g.Exercises {
			ids = append(ids, ex.ID)
		}
	}
	return ids
}

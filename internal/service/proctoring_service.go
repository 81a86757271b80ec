package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/proctoring"
)

// ProctoringService records exam sessions and analyzes them.
type ProctoringService struct {
	examRepo    examStore
	sessionRepo examSessionStore
	queue       Queue
	publisher   Publisher
	now         func() time.Time
	log         zerolog.Logger
}

// NewProctoringService creates a new ProctoringService.
func NewProctoringService(
	examRepo examStore,
	sessionRepo examSessionStore,
	queue Queue,
	publisher Publisher,
	log zerolog.Logger,
) *ProctoringService {
	return &ProctoringService{
		examRepo:    examRepo,
		sessionRepo: sessionRepo,
		queue:       queue,
		publisher:   publisher,
		now:         time.Now,
		log:         log.With().Str("component", "proctoring_service").Logger(),
	}
}

// SuspiciousSessions runs the enabled criteria over a snapshot of the exam's sessions.
func (s *ProctoringService) SuspiciousSessions(ctx context.Context, examID uuid.UUID, opts proctoring.Options) ([]proctoring.SuspiciousSessionGroup, error) {
	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	sessions, err := s.sessionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	groups, err := proctoring.FindSuspiciousSessions(sessions, opts)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("sessions", len(sessions)).
		Int("groups", len(groups)).
		Msg("Session analysis finished")
	return groups, nil
}

// Sessions returns a snapshot of the exam's sessions, test runs excluded.
func (s *ProctoringService) Sessions(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error) {
	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.sessionRepo.ListByExam(ctx, examID)
}

// RecordSession queues a new session for persistence and announces it to live monitors.
// Sessions are immutable; every (re)connect records a new one.
func (s *ProctoringService) RecordSession(ctx context.Context, examID uuid.UUID, session *model.ExamSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}

	if err := s.queue.Push(ctx, config.WorkerKey.PersistExamSessionsQueue, session); err != nil {
		return fmt.Errorf("queue exam session: %w", err)
	}
	if err := s.publisher.Publish(ctx, config.CacheKey.ExamSessionsChannel(examID.String()), session); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to announce exam session")
	}
	return nil
}

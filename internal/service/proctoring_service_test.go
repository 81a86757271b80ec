package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/proctoring"
)

func TestSuspiciousSessions(t *testing.T) {
	exam := newTestExam(t)
	a, b := uuid.New(), uuid.New()
	sessions := &fakeSessions{sessions: []model.ExamSession{
		{ID: uuid.New(), StudentExamID: a, IPAddress: "10.1.0.4"},
		{ID: uuid.New(), StudentExamID: b, IPAddress: "10.1.0.4"},
	}}
	svc := NewProctoringService(newFakeExams(exam), sessions, &fakeQueue{}, &fakePublisher{}, zerolog.Nop())
	ctx := context.Background()

	groups, err := svc.SuspiciousSessions(ctx, exam.ID, proctoring.Options{DifferentStudentExamsSameIPAddress: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Errorf("got %d groups, want 1", len(groups))
	}

	_, err = svc.SuspiciousSessions(ctx, exam.ID, proctoring.Options{IPOutsideOfRange: true})
	if !errors.Is(err, apperror.ErrInvalidArgument) {
		t.Errorf("missing subnet: err = %v, want ErrInvalidArgument", err)
	}

	_, err = svc.SuspiciousSessions(ctx, uuid.New(), proctoring.Options{})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown exam: err = %v, want ErrNotFound", err)
	}
}

func TestRecordSession(t *testing.T) {
	exam := newTestExam(t)
	queue, pub := &fakeQueue{}, &fakePublisher{}
	svc := NewProctoringService(newFakeExams(exam), &fakeSessions{}, queue, pub, zerolog.Nop())
	svc.now = clock(examStart)

	s := &model.ExamSession{StudentExamID: uuid.New(), StudentID: 1, IPAddress: "192.0.2.1"}
	if err := svc.RecordSession(context.Background(), exam.ID, s); err != nil {
		t.Fatal(err)
	}
	if s.ID == uuid.Nil || !s.CreatedAt.Equal(examStart) {
		t.Errorf("session not stamped: %+v", s)
	}
	if n := len(queue.pushed[config.WorkerKey.PersistExamSessionsQueue]); n != 1 {
		t.Errorf("queued %d sessions, want 1", n)
	}
	if n := len(pub.published[config.CacheKey.ExamSessionsChannel(exam.ID.String())]); n != 1 {
		t.Errorf("published %d sessions, want 1", n)
	}
}

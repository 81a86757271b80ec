package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ExamSessionRepository handles proctoring session records.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

var examSessionColumns = []string{
	"id", "student_exam_id", "student_id", "session_token", "user_agent",
	"browser_fingerprint_hash", "instance_id", "ip_address", "initial_session", "created_at",
}

func sessionValues(s *model.ExamSession) []any {
	return []any{
		s.ID, s.StudentExamID, s.StudentID, s.SessionToken, s.UserAgent,
		s.BrowserFingerprintHash, s.InstanceID, s.IPAddress, s.InitialSession, s.CreatedAt,
	}
}

// ListByExam returns every session of the exam's student exams in creation order.
func (r *ExamSessionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_exam_id, s.student_id, s.session_token, s.user_agent,
		        s.browser_fingerprint_hash, s.instance_id, s.ip_address, s.initial_session, s.created_at
		 FROM exam_sessions s
		 JOIN student_exams se ON se.id = s.student_exam_id
		 WHERE se.exam_id = $1 AND NOT se.test_run
		 ORDER BY s.created_at, s.id`, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam sessions: %w", err)
	}
	defer rows.Close()

	var out []model.ExamSession
	for rows.Next() {
		var s model.ExamSession
		if err := rows.Scan(&s.ID, &s.StudentExamID, &s.StudentID, &s.SessionToken, &s.UserAgent,
			&s.BrowserFingerprintHash, &s.InstanceID, &s.IPAddress, &s.InitialSession, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Insert stores a single session. Duplicate IDs are ignored.
func (r *ExamSessionRepository) Insert(ctx context.Context, s *model.ExamSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (id, student_exam_id, student_id, session_token, user_agent,
		        browser_fingerprint_hash, instance_id, ip_address, initial_session, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		sessionValues(s)...)
	return err
}

// BulkInsert copies sessions in one round trip. It fails as a whole on any conflict.
func (r *ExamSessionRepository) BulkInsert(ctx context.Context, sessions []model.ExamSession) (int64, error) {
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_sessions"},
		examSessionColumns,
		pgx.CopyFromSlice(len(sessions), func(i int) ([]any, error) {
			return sessionValues(&sessions[i]), nil
		}),
	)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// StudentExamRepository handles student exam data access.
type StudentExamRepository struct {
	pool *pgxpool.Pool
}

// NewStudentExamRepository creates a new StudentExamRepository.
func NewStudentExamRepository(pool *pgxpool.Pool) *StudentExamRepository {
	return &StudentExamRepository{pool: pool}
}

const studentExamColumns = `id, exam_id, student_id, test_run, exercise_ids, quiz_question_ids,
	working_time, started, started_date, submitted, submission_date, created_at`

func scanStudentExam(row pgx.Row, se *model.StudentExam) error {
	return row.Scan(&se.ID, &se.ExamID, &se.StudentID, &se.TestRun, &se.ExerciseIDs, &se.QuizQuestionIDs,
		&se.WorkingTime, &se.Started, &se.StartedDate, &se.Submitted, &se.SubmissionDate, &se.CreatedAt)
}

// GetByID retrieves a student exam by its UUID.
func (r *StudentExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StudentExam, error) {
	se := &model.StudentExam{}
	row := r.pool.QueryRow(ctx, `SELECT `+studentExamColumns+` FROM student_exams WHERE id = $1`, id)
	if err := scanStudentExam(row, se); err != nil {
		return nil, notFound(err, "student exam", id)
	}
	return se, nil
}

// ListByExam returns every student exam of an exam, test runs included.
func (r *StudentExamRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StudentExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+studentExamColumns+` FROM student_exams
		 WHERE exam_id = $1
		 ORDER BY test_run, student_id, created_at`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StudentExam
	for rows.Next() {
		var se model.StudentExam
		if err := scanStudentExam(rows, &se); err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

const insertStudentExamSQL = `INSERT INTO student_exams (id, exam_id, student_id, test_run, exercise_ids, quiz_question_ids, working_time, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (exam_id, student_id) WHERE NOT test_run DO NOTHING
	 RETURNING id`

func queueInsert(batch *pgx.Batch, studentExams []*model.StudentExam) {
	for _, se := range studentExams {
		batch.Queue(insertStudentExamSQL,
			se.ID, se.ExamID, se.StudentID, se.TestRun, se.ExerciseIDs, se.QuizQuestionIDs, se.WorkingTime, se.CreatedAt)
	}
}

// readInserted collects the IDs returned by n queued inserts. Conflicting rows return none.
func readInserted(br pgx.BatchResults, n int) ([]uuid.UUID, error) {
	inserted := make([]uuid.UUID, 0, n)
	for range n {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		switch {
		case err == nil:
			inserted = append(inserted, id)
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return nil, fmt.Errorf("insert student exam: %w", err)
		}
	}
	return inserted, nil
}

// CreateBatch inserts student exams in one transaction. A participant that already owns a
// (non test run) student exam is skipped, so concurrent generation cannot create duplicates.
// It returns the IDs that were actually inserted.
func (r *StudentExamRepository) CreateBatch(ctx context.Context, studentExams []*model.StudentExam) ([]uuid.UUID, error) {
	if len(studentExams) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	queueInsert(batch, studentExams)

	br := tx.SendBatch(ctx, batch)
	inserted, err := readInserted(br, len(studentExams))
	if err != nil {
		br.Close()
		return nil, err
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit student exams: %w", err)
	}
	return inserted, nil
}

// ReplaceRoster applies a roster regeneration in one transaction: student exams of
// deregistered participants are removed, regenerated selections overwritten and new student
// exams inserted. Either all of it is committed or nothing is. It returns the IDs of the
// created student exams that were actually inserted.
func (r *StudentExamRepository) ReplaceRoster(ctx context.Context, regenerated, created []*model.StudentExam, removed []uuid.UUID) ([]uuid.UUID, error) {
	if len(regenerated) == 0 && len(created) == 0 && len(removed) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	if len(removed) > 0 {
		batch.Queue(`DELETE FROM student_exams WHERE id = ANY($1) AND NOT test_run`, removed)
	}
	for _, se := range regenerated {
		batch.Queue(
			`UPDATE student_exams
			 SET exercise_ids = $1, quiz_question_ids = $2, started = FALSE, started_date = NULL,
			     submitted = FALSE, submission_date = NULL
			 WHERE id = $3`,
			se.ExerciseIDs, se.QuizQuestionIDs, se.ID)
	}
	queueInsert(batch, created)

	br := tx.SendBatch(ctx, batch)
	statements := len(regenerated)
	if len(removed) > 0 {
		statements++
	}
	for range statements {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("replace selections: %w", err)
		}
	}
	inserted, err := readInserted(br, len(created))
	if err != nil {
		br.Close()
		return nil, err
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit roster: %w", err)
	}
	return inserted, nil
}

// UpdateWorkingTime sets an individual working-time override in seconds.
func (r *StudentExamRepository) UpdateWorkingTime(ctx context.Context, id uuid.UUID, seconds int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE student_exams SET working_time = $1 WHERE id = $2`, seconds, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("student exam", id)
	}
	return nil
}

// MarkStarted records the first start; later calls keep the original start date.
func (r *StudentExamRepository) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE student_exams SET started = TRUE, started_date = COALESCE(started_date, $1)
		 WHERE id = $2`, at, id)
	return err
}

// MarkSubmitted records the submission. It reports false when the exam was already submitted.
func (r *StudentExamRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_exams SET submitted = TRUE, submission_date = $1
		 WHERE id = $2 AND NOT submitted`, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, course_id, title, test_exam, visible_date, start_date, end_date,
	working_time, grace_period, number_of_exercises_in_exam,
	number_of_correction_rounds_in_exam, exam_max_points, randomize_exercise_order,
	created_at, updated_at`

// GetByID retrieves an exam without its exercise groups.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id).Scan(
		&e.ID, &e.CourseID, &e.Title, &e.TestExam, &e.VisibleDate, &e.StartDate, &e.EndDate,
		&e.WorkingTime, &e.GracePeriod, &e.NumberOfExercisesInExam,
		&e.NumberOfCorrectionRoundsInExam, &e.ExamMaxPoints, &e.RandomizeExerciseOrder,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "exam", id)
	}
	return e, nil
}

// GetWithExercises loads an exam with its ordered exercise groups, their exercises and the quiz pool.
func (r *ExamRepository) GetWithExercises(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.title, g.mandatory, g.position,
		        x.id, x.title, x.max_points, x.bonus_points, x.included_in_overall_score
		 FROM exercise_groups g
		 LEFT JOIN exercises x ON x.exercise_group_id = g.id
		 WHERE g.exam_id = $1
		 ORDER BY g.position, g.id, x.position, x.id`, id)
	if err != nil {
		return nil, fmt.Errorf("query exercise groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g          model.ExerciseGroup
			exID       *int64
			exTitle    *string
			maxPoints  *float64
			bonus      *float64
			includedAs *string
		)
		if err := rows.Scan(&g.ID, &g.Title, &g.Mandatory, &g.Position,
			&exID, &exTitle, &maxPoints, &bonus, &includedAs); err != nil {
			return nil, err
		}
		n := len(e.ExerciseGroups)
		if n == 0 || e.ExerciseGroups[n-1].ID != g.ID {
			g.ExamID = id
			e.ExerciseGroups = append(e.ExerciseGroups, g)
			n++
		}
		if exID == nil {
			continue
		}
		e.ExerciseGroups[n-1].Exercises = append(e.ExerciseGroups[n-1].Exercises, model.Exercise{
			ID:                     *exID,
			ExerciseGroupID:        g.ID,
			Title:                  *exTitle,
			MaxPoints:              *maxPoints,
			BonusPoints:            *bonus,
			IncludedInOverallScore: model.IncludedInOverallScore(*includedAs),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pool, err := r.quizPool(ctx, id)
	if err != nil {
		return nil, err
	}
	e.QuizPool = pool
	return e, nil
}

// quizPool returns nil when the exam has no quiz pool.
func (r *ExamRepository) quizPool(ctx context.Context, examID uuid.UUID) (*model.QuizPool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, q.id, q.quiz_group_id, COALESCE(g.name, ''), q.title, q.points
		 FROM quiz_pools p
		 JOIN quiz_questions q ON q.quiz_pool_id = p.id
		 LEFT JOIN quiz_groups g ON g.id = q.quiz_group_id
		 WHERE p.exam_id = $1
		 ORDER BY g.position NULLS LAST, g.id, q.position, q.id`, examID)
	if err != nil {
		return nil, fmt.Errorf("query quiz pool: %w", err)
	}
	defer rows.Close()

	var pool *model.QuizPool
	for rows.Next() {
		var (
			poolID    int64
			groupName string
			q         model.QuizQuestion
		)
		if err := rows.Scan(&poolID, &q.ID, &q.QuizGroupID, &groupName, &q.Title, &q.Points); err != nil {
			return nil, err
		}
		if pool == nil {
			pool = &model.QuizPool{ID: poolID, ExamID: examID}
		}
		if q.QuizGroupID == nil {
			pool.UngroupedQuestions = append(pool.UngroupedQuestions, q)
			continue
		}
		n := len(pool.Groups)
		if n == 0 || pool.Groups[n-1].ID != *q.QuizGroupID {
			pool.Groups = append(pool.Groups, model.QuizGroup{ID: *q.QuizGroupID, Name: groupName})
			n++
		}
		pool.Groups[n-1].Questions = append(pool.Groups[n-1].Questions, q)
	}
	return pool, rows.Err()
}

// UpdateSchedule persists title, dates, working time and grace period.
func (r *ExamRepository) UpdateSchedule(ctx context.Context, e *model.Exam) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, visible_date = $2, start_date = $3, end_date = $4,
		     working_time = $5, grace_period = $6, updated_at = NOW()
		 WHERE id = $7`,
		e.Title, e.VisibleDate, e.StartDate, e.EndDate, e.WorkingTime, e.GracePeriod, e.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("exam", e.ID)
	}
	return nil
}

// ListRegisteredStudents returns the registered student IDs in ascending order.
func (r *ExamRepository) ListRegisteredStudents(ctx context.Context, examID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id FROM exam_registrations WHERE exam_id = $1 ORDER BY student_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

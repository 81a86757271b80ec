package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ParticipationRepository handles participations and their results.
type ParticipationRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewParticipationRepository creates a new ParticipationRepository.
func NewParticipationRepository(pool *pgxpool.Pool) *ParticipationRepository {
	return &ParticipationRepository{pool: pool, sb: psql}
}

// CreateBatch ensures a participation exists for every exercise. Existing ones are kept.
func (r *ParticipationRepository) CreateBatch(ctx context.Context, studentID int, exerciseIDs []int64) error {
	if len(exerciseIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participations (exercise_id, student_id)
		 SELECT x, $1 FROM UNNEST($2::BIGINT[]) AS x
		 ON CONFLICT (exercise_id, student_id) DO NOTHING`,
		studentID, exerciseIDs)
	if err != nil {
		return fmt.Errorf("create participations: %w", err)
	}
	return nil
}

// DeleteByStudentAndExercises removes a student's participations (and their results) in the given exercises.
func (r *ParticipationRepository) DeleteByStudentAndExercises(ctx context.Context, studentID int, exerciseIDs []int64) (int64, error) {
	if len(exerciseIDs) == 0 {
		return 0, nil
	}
	sql, args, err := r.sb.Delete("participations").
		Where(squirrel.Eq{"student_id": studentID, "exercise_id": exerciseIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete participations: %w", err)
	}
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete participations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListWithResults returns every participation in the given exercises with results ordered oldest first.
func (r *ParticipationRepository) ListWithResults(ctx context.Context, exerciseIDs []int64) ([]model.Participation, error) {
	if len(exerciseIDs) == 0 {
		return nil, nil
	}
	sql, args, err := r.sb.Select("p.id", "p.exercise_id", "p.student_id", "r.id", "r.score", "r.completion_date").
		From("participations p").
		LeftJoin("results r ON r.participation_id = p.id").
		Where(squirrel.Eq{"p.exercise_id": exerciseIDs}).
		OrderBy("p.id", "r.created_at", "r.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list participations: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	var out []model.Participation
	for rows.Next() {
		var (
			p          model.Participation
			resultID   *int64
			score      *float64
			completion *time.Time
		)
		if err := rows.Scan(&p.ID, &p.ExerciseID, &p.StudentID, &resultID, &score, &completion); err != nil {
			return nil, err
		}
		n := len(out)
		if n == 0 || out[n-1].ID != p.ID {
			out = append(out, p)
			n++
		}
		if resultID != nil {
			out[n-1].Results = append(out[n-1].Results, model.Result{
				ID:              *resultID,
				ParticipationID: p.ID,
				Score:           *score,
				CompletionDate:  completion,
			})
		}
	}
	return out, rows.Err()
}

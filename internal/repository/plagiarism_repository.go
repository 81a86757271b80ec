package repository

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/model"
)

// PlagiarismCaseRepository reads plagiarism verdicts.
type PlagiarismCaseRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewPlagiarismCaseRepository creates a new PlagiarismCaseRepository.
func NewPlagiarismCaseRepository(pool *pgxpool.Pool) *PlagiarismCaseRepository {
	return &PlagiarismCaseRepository{pool: pool, sb: psql}
}

// ListByExercises returns the cases of the given exercises.
func (r *PlagiarismCaseRepository) ListByExercises(ctx context.Context, exerciseIDs []int64) ([]model.PlagiarismCase, error) {
	if len(exerciseIDs) == 0 {
		return nil, nil
	}
	sql, args, err := r.sb.Select("id", "student_id", "exercise_id", "verdict", "verdict_point_deduction").
		From("plagiarism_cases").
		Where(squirrel.Eq{"exercise_id": exerciseIDs}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list plagiarism cases: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlagiarismCase
	for rows.Next() {
		var c model.PlagiarismCase
		if err := rows.Scan(&c.ID, &c.StudentID, &c.ExerciseID, &c.Verdict, &c.VerdictPointDeduction); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

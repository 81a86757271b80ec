package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// GradingScaleRepository handles grading scales, their steps and bonus links.
type GradingScaleRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewGradingScaleRepository creates a new GradingScaleRepository.
func NewGradingScaleRepository(pool *pgxpool.Pool) *GradingScaleRepository {
	return &GradingScaleRepository{pool: pool, sb: psql}
}

func (r *GradingScaleRepository) get(ctx context.Context, where squirrel.Sqlizer, id any) (*model.GradingScale, error) {
	sql, args, err := r.sb.Select("id", "course_id", "exam_id", "grade_type", "bonus_strategy", "max_points",
		"plagiarism_grade", "no_participation_grade", "top_step_upper_bound_inclusive").
		From("grading_scales").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get grading scale: %w", err)
	}

	s := &model.GradingScale{}
	err = r.pool.QueryRow(ctx, sql, args...).Scan(&s.ID, &s.CourseID, &s.ExamID, &s.GradeType, &s.BonusStrategy,
		&s.MaxPoints, &s.PlagiarismGrade, &s.NoParticipationGrade, &s.TopStepUpperBoundInclusive)
	if err != nil {
		return nil, notFound(err, "grading scale", id)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, lower_bound_percentage, upper_bound_percentage, grade_name, is_passing_grade
		 FROM grade_steps WHERE grading_scale_id = $1
		 ORDER BY lower_bound_percentage`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st model.GradeStep
		if err := rows.Scan(&st.ID, &st.LowerBoundPercentage, &st.UpperBoundPercentage, &st.GradeName, &st.IsPassingGrade); err != nil {
			return nil, err
		}
		s.GradeSteps = append(s.GradeSteps, st)
	}
	return s, rows.Err()
}

// GetByID loads a grading scale with its steps.
func (r *GradingScaleRepository) GetByID(ctx context.Context, id int64) (*model.GradingScale, error) {
	return r.get(ctx, squirrel.Eq{"id": id}, id)
}

// GetByExam loads the exam's grading scale. apperror.ErrNotFound means the exam is ungraded.
func (r *GradingScaleRepository) GetByExam(ctx context.Context, examID uuid.UUID) (*model.GradingScale, error) {
	return r.get(ctx, squirrel.Expr("exam_id = ?", examID), examID)
}

// GetBonusByTarget returns the bonus whose target is the given scale.
func (r *GradingScaleRepository) GetBonusByTarget(ctx context.Context, targetScaleID int64) (*model.Bonus, error) {
	b := &model.Bonus{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, source_grading_scale_id, target_grading_scale_id, weight, bonus_strategy
		 FROM bonuses WHERE target_grading_scale_id = $1`, targetScaleID,
	).Scan(&b.ID, &b.SourceGradingScaleID, &b.TargetGradingScaleID, &b.Weight, &b.BonusStrategy)
	if err != nil {
		return nil, notFound(err, "bonus for grading scale", targetScaleID)
	}
	return b, nil
}

// ListCourseExercises returns the course exercises (outside any exam) a bonus source is computed from.
func (r *GradingScaleRepository) ListCourseExercises(ctx context.Context, courseID int64) ([]model.Exercise, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, max_points, bonus_points, included_in_overall_score
		 FROM exercises WHERE course_id = $1 AND exercise_group_id IS NULL
		 ORDER BY position, id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exercise
	for rows.Next() {
		var ex model.Exercise
		if err := rows.Scan(&ex.ID, &ex.Title, &ex.MaxPoints, &ex.BonusPoints, &ex.IncludedInOverallScore); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Upsert replaces the scale owned by the same exam or course, steps included, and
// returns its ID.
func (r *GradingScaleRepository) Upsert(ctx context.Context, s *model.GradingScale) (int64, error) {
	if (s.ExamID == nil) == (s.CourseID == nil) {
		return 0, apperror.InvalidArgument("grading scale must belong to exactly one of exam or course")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// uuid.UUID is an array type, squirrel.Eq would expand it into an IN list
	var owner squirrel.Sqlizer = squirrel.Eq{"course_id": s.CourseID, "exam_id": nil}
	if s.ExamID != nil {
		owner = squirrel.Expr("exam_id = ?", *s.ExamID)
	}
	sql, args, err := r.sb.Select("id").From("grading_scales").Where(owner).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, sql, args...).Scan(&id)
	switch {
	case err == nil:
		_, err = tx.Exec(ctx,
			`UPDATE grading_scales
			 SET grade_type = $1, bonus_strategy = $2, max_points = $3, plagiarism_grade = $4,
			     no_participation_grade = $5, top_step_upper_bound_inclusive = $6
			 WHERE id = $7`,
			s.GradeType, s.BonusStrategy, s.MaxPoints, s.PlagiarismGradeOrDefault(),
			s.NoParticipationGrade, s.TopStepUpperBoundInclusive, id)
		if err != nil {
			return 0, fmt.Errorf("update grading scale: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM grade_steps WHERE grading_scale_id = $1`, id); err != nil {
			return 0, fmt.Errorf("clear grade steps: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`INSERT INTO grading_scales (course_id, exam_id, grade_type, bonus_strategy, max_points,
			        plagiarism_grade, no_participation_grade, top_step_upper_bound_inclusive)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			s.CourseID, s.ExamID, s.GradeType, s.BonusStrategy, s.MaxPoints, s.PlagiarismGradeOrDefault(),
			s.NoParticipationGrade, s.TopStepUpperBoundInclusive,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert grading scale: %w", err)
		}
	default:
		return 0, fmt.Errorf("lock grading scale: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"grade_steps"},
		[]string{"grading_scale_id", "lower_bound_percentage", "upper_bound_percentage", "grade_name", "is_passing_grade"},
		pgx.CopyFromSlice(len(s.GradeSteps), func(i int) ([]any, error) {
			st := s.GradeSteps[i]
			return []any{id, st.LowerBoundPercentage, st.UpperBoundPercentage, st.GradeName, st.IsPassingGrade}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy grade steps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// UpsertBonus links a source scale to a target scale, replacing an existing link of the target.
func (r *GradingScaleRepository) UpsertBonus(ctx context.Context, b *model.Bonus) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO bonuses (source_grading_scale_id, target_grading_scale_id, weight, bonus_strategy)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (target_grading_scale_id)
		 DO UPDATE SET source_grading_scale_id = EXCLUDED.source_grading_scale_id,
		               weight = EXCLUDED.weight, bonus_strategy = EXCLUDED.bonus_strategy
		 RETURNING id`,
		b.SourceGradingScaleID, b.TargetGradingScaleID, b.Weight, b.BonusStrategy,
	).Scan(&b.ID)
}

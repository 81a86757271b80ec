package examgen

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultWorkers bounds the goroutines used by batch generation.
const DefaultWorkers = 8

// golden-ratio increment, spreads consecutive rounds over the seed space
const roundStride = 0x9E3779B97F4A7C15

// Generator draws individualized exams. First draws are reproducible for a given seed:
// each batch call takes a new round number, and every participant gets its own
// PCG stream keyed by (seed, round, student), so parallel generation does not
// depend on goroutine scheduling. Regeneration streams are additionally keyed by the
// student exam and the time of regeneration, so a restarted process with the same seed
// does not replay the previous selection.
type Generator struct {
	seed    uint64
	round   atomic.Uint64
	workers int
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed fixes the random seed.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.seed = seed }
}

// WithWorkers sets the parallelism of batch generation.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator. Without WithSeed the seed is random.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		seed:    rand.Uint64(),
		workers: DefaultWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StudentExamOption customizes a single generated student exam.
type StudentExamOption func(*model.StudentExam)

// WithWorkingTime sets an individual working-time override in seconds.
func WithWorkingTime(seconds int) StudentExamOption {
	return func(se *model.StudentExam) {
		wt := seconds
		se.WorkingTime = &wt
	}
}

// Validate checks the exam-level cardinality constraints and returns the pool index.
// It never consumes randomness, so a failing exam leaves no trace.
func (g *Generator) Validate(exam *model.Exam) (*Pool, error) {
	if exam.NumberOfExercisesInExam == nil {
		return nil, apperror.InvalidConfig("number of exercises in exam is not set")
	}
	pool, err := NewPool(exam)
	if err != nil {
		return nil, err
	}

	k := *exam.NumberOfExercisesInExam
	n := pool.NumberOfGroups()
	m := pool.NumberOfMandatoryGroups()

	if k > n {
		return nil, apperror.InvalidConfig("number of exercises in exam (%d) exceeds number of exercise groups (%d)", k, n)
	}
	if k < m {
		return nil, apperror.InvalidConfig("number of exercises in exam (%d) is less than number of mandatory exercise groups (%d)", k, m)
	}

	fillable := 0
	for _, grp := range pool.groups {
		switch {
		case grp.mandatory && len(grp.candidates) == 0:
			return nil, apperror.InvalidConfig("mandatory exercise group %d has no exercises", grp.id)
		case !grp.mandatory && len(grp.candidates) > 0:
			fillable++
		}
	}
	if fillable < k-m {
		return nil, apperror.InvalidConfig("only %d optional exercise groups have exercises, %d needed", fillable, k-m)
	}

	for _, qg := range pool.quizGroups {
		if len(qg.questions) == 0 {
			return nil, apperror.InvalidConfig("quiz group %d has no questions", qg.id)
		}
	}
	return pool, nil
}

// GenerateStudentExam creates one student exam for the participant.
func (g *Generator) GenerateStudentExam(exam *model.Exam, studentID int, opts ...StudentExamOption) (*model.StudentExam, error) {
	pool, err := g.Validate(exam)
	if err != nil {
		return nil, err
	}
	return g.build(exam, pool, g.rng(g.nextRound(), studentID), studentID, opts...)
}

// RegenerateStudentExam replaces the selection of an existing student exam with a fresh draw.
// Identity, test-run flag and working-time override are kept; conduction state is reset.
// The returned IDs are the superseded exercises whose participations must be deleted.
func (g *Generator) RegenerateStudentExam(exam *model.Exam, existing *model.StudentExam) (*model.StudentExam, []int64, error) {
	pool, err := g.Validate(exam)
	if err != nil {
		return nil, nil, err
	}
	return g.regenerate(exam, pool, g.nextRound(), existing)
}

// GenerateMissingStudentExams creates student exams for registered participants that have none.
// Participants with an existing (non test run) student exam are left untouched.
// Either every missing exam is returned or none is.
func (g *Generator) GenerateMissingStudentExams(ctx context.Context, exam *model.Exam, registered []int, existing []model.StudentExam) ([]*model.StudentExam, error) {
	pool, err := g.Validate(exam)
	if err != nil {
		return nil, err
	}

	has := make(map[int]struct{}, len(existing))
	for _, se := range existing {
		if !se.TestRun {
			has[se.StudentID] = struct{}{}
		}
	}
	missing := make([]int, 0, len(registered))
	for _, id := range registered {
		if _, ok := has[id]; ok {
			continue
		}
		has[id] = struct{}{}
		missing = append(missing, id)
	}
	slices.Sort(missing)

	round := g.nextRound()
	out := make([]*model.StudentExam, len(missing))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, studentID := range missing {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			se, err := g.build(exam, pool, g.rng(round, studentID), studentID)
			if err != nil {
				return err
			}
			out[i] = se
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Roster is the outcome of regenerating all student exams of an exam.
type Roster struct {
	Created     []*model.StudentExam
	Regenerated []*model.StudentExam
	// Superseded maps a regenerated student exam to its previous exercise selection.
	Superseded map[uuid.UUID][]int64
	// Deregistered are existing student exams whose participant is no longer registered.
	Deregistered []model.StudentExam
}

// GenerateStudentExams regenerates the whole roster: existing exams of registered participants
// get a fresh draw, missing ones are created, and exams of deregistered participants are reported.
// Test runs are ignored.
func (g *Generator) GenerateStudentExams(ctx context.Context, exam *model.Exam, registered []int, existing []model.StudentExam) (*Roster, error) {
	pool, err := g.Validate(exam)
	if err != nil {
		return nil, err
	}

	isRegistered := make(map[int]bool, len(registered))
	for _, id := range registered {
		isRegistered[id] = true
	}

	roster := &Roster{Superseded: make(map[uuid.UUID][]int64)}
	byStudent := make(map[int]*model.StudentExam, len(existing))
	for i := range existing {
		se := &existing[i]
		if se.TestRun {
			continue
		}
		if !isRegistered[se.StudentID] {
			roster.Deregistered = append(roster.Deregistered, *se)
			continue
		}
		byStudent[se.StudentID] = se
	}

	students := make([]int, 0, len(isRegistered))
	for id := range isRegistered {
		students = append(students, id)
	}
	slices.Sort(students)

	round := g.nextRound()
	generated := make([]*model.StudentExam, len(students))
	superseded := make([][]int64, len(students))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, studentID := range students {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if prev, ok := byStudent[studentID]; ok {
				se, old, err := g.regenerate(exam, pool, round, prev)
				if err != nil {
					return err
				}
				generated[i], superseded[i] = se, old
				return nil
			}
			se, err := g.build(exam, pool, g.rng(round, studentID), studentID)
			if err != nil {
				return err
			}
			generated[i] = se
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i, se := range generated {
		if _, ok := byStudent[se.StudentID]; ok {
			roster.Regenerated = append(roster.Regenerated, se)
			roster.Superseded[se.ID] = superseded[i]
		} else {
			roster.Created = append(roster.Created, se)
		}
	}
	return roster, nil
}

// GenerateTestRun builds a staff-owned test run from an explicit selection containing exactly
// one exercise of every exercise group. Quiz questions are drawn as for participants.
func (g *Generator) GenerateTestRun(exam *model.Exam, instructorID int, exerciseIDs []int64, workingTime int) (*model.StudentExam, error) {
	pool, err := NewPool(exam)
	if err != nil {
		return nil, err
	}
	if len(exerciseIDs) != pool.NumberOfGroups() {
		return nil, apperror.InvalidArgument("test run needs one exercise per group: got %d exercises for %d groups", len(exerciseIDs), pool.NumberOfGroups())
	}
	covered := make(map[int64]bool, len(exerciseIDs))
	for _, id := range exerciseIDs {
		groupID, ok := pool.GroupOf(id)
		if !ok {
			return nil, apperror.InvalidArgument("exercise %d is not part of exam %s", id, exam.ID)
		}
		if covered[groupID] {
			return nil, apperror.InvalidArgument("exercise group %d selected twice", groupID)
		}
		covered[groupID] = true
	}
	for _, qg := range pool.quizGroups {
		if len(qg.questions) == 0 {
			return nil, apperror.InvalidConfig("quiz group %d has no questions", qg.id)
		}
	}

	rng := g.rng(g.nextRound(), instructorID)
	se := &model.StudentExam{
		ID:              uuid.New(),
		ExamID:          exam.ID,
		StudentID:       instructorID,
		TestRun:         true,
		ExerciseIDs:     slices.Clone(exerciseIDs),
		QuizQuestionIDs: drawQuiz(pool, rng),
		CreatedAt:       g.now(),
	}
	WithWorkingTime(workingTime)(se)
	return se, nil
}

func (g *Generator) nextRound() uint64 {
	return g.round.Add(1)
}

func (g *Generator) rng(round uint64, studentID int) *rand.Rand {
	return rand.New(rand.NewPCG(g.seed+round*roundStride, uint64(studentID)))
}

// regenerationRNG folds the student exam ID and the current time into the stream.
func (g *Generator) regenerationRNG(round uint64, existing *model.StudentExam) *rand.Rand {
	salt := binary.BigEndian.Uint64(existing.ID[:8]) ^ binary.BigEndian.Uint64(existing.ID[8:]) ^ uint64(g.now().UnixNano())
	return rand.New(rand.NewPCG(g.seed+round*roundStride, uint64(existing.StudentID)^salt))
}

func (g *Generator) build(exam *model.Exam, pool *Pool, rng *rand.Rand, studentID int, opts ...StudentExamOption) (*model.StudentExam, error) {
	exerciseIDs, err := drawExercises(pool, *exam.NumberOfExercisesInExam, exam.RandomizeExerciseOrder, rng)
	if err != nil {
		return nil, err
	}
	se := &model.StudentExam{
		ID:              uuid.New(),
		ExamID:          exam.ID,
		StudentID:       studentID,
		ExerciseIDs:     exerciseIDs,
		QuizQuestionIDs: drawQuiz(pool, rng),
		CreatedAt:       g.now(),
	}
	for _, opt := range opts {
		opt(se)
	}
	return se, nil
}

func (g *Generator) regenerate(exam *model.Exam, pool *Pool, round uint64, existing *model.StudentExam) (*model.StudentExam, []int64, error) {
	fresh, err := g.build(exam, pool, g.regenerationRNG(round, existing), existing.StudentID)
	if err != nil {
		return nil, nil, err
	}
	fresh.ID = existing.ID
	fresh.TestRun = existing.TestRun
	fresh.CreatedAt = existing.CreatedAt
	if existing.WorkingTime != nil {
		WithWorkingTime(*existing.WorkingTime)(fresh)
	}
	return fresh, slices.Clone(existing.ExerciseIDs), nil
}

// drawExercises picks the groups to fill (all mandatory plus a random subset of the non-empty
// optional groups) and draws one exercise per picked group in exam order.
func drawExercises(pool *Pool, k int, randomizeOrder bool, rng *rand.Rand) ([]int64, error) {
	var optional []int
	mandatory := 0
	for i, grp := range pool.groups {
		if grp.mandatory {
			mandatory++
		} else if len(grp.candidates) > 0 {
			optional = append(optional, i)
		}
	}
	needed := k - mandatory
	if needed < 0 || needed > len(optional) {
		return nil, apperror.InvalidConfig("cannot fill %d exercises from %d mandatory and %d optional groups", k, mandatory, len(optional))
	}

	picked := make(map[int]bool, needed)
	for _, j := range rng.Perm(len(optional))[:needed] {
		picked[optional[j]] = true
	}

	ids := make([]int64, 0, k)
	for i, grp := range pool.groups {
		if !grp.mandatory && !picked[i] {
			continue
		}
		if len(grp.candidates) == 0 {
			return nil, apperror.InvalidConfig("exercise group %d has no exercises", grp.id)
		}
		ids = append(ids, grp.candidates[rng.IntN(len(grp.candidates))])
	}

	if randomizeOrder {
		rng.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
	}
	return ids, nil
}

// drawQuiz picks one question per quiz group and appends every ungrouped question.
// Quiz groups are validated to be non-empty before drawing.
func drawQuiz(pool *Pool, rng *rand.Rand) []int64 {
	if !pool.hasQuizPool {
		return nil
	}
	ids := make([]int64, 0, pool.QuizQuestionCount())
	for _, qg := range pool.quizGroups {
		ids = append(ids, qg.questions[rng.IntN(len(qg.questions))])
	}
	return append(ids, pool.ungrouped...)
}

// Package examgen builds individualized student exams from an exam's exercise groups
// and quiz pool.
package examgen

import (
	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// group is an immutable snapshot of one exercise group.
type group struct {
	id         int64
	mandatory  bool
	candidates []int64
}

// quizGroup is an immutable snapshot of one quiz group.
type quizGroup struct {
	id        int64
	questions []int64
}

// Pool is a read-only index of an exam's exercise groups and quiz pool.
// It copies everything it needs so later mutation of the exam graph cannot leak in.
type Pool struct {
	groups          []group
	groupByExercise map[int64]int64
	exercises       map[int64]model.Exercise

	hasQuizPool bool
	quizGroups  []quizGroup
	ungrouped   []int64
}

// NewPool indexes the exam. It rejects a question that appears in more than one quiz group.
func NewPool(exam *model.Exam) (*Pool, error) {
	p := &Pool{
		groups:          make([]group, 0, len(exam.ExerciseGroups)),
		groupByExercise: make(map[int64]int64),
		exercises:       make(map[int64]model.Exercise),
	}

	for _, eg := range exam.ExerciseGroups {
		ids := make([]int64, 0, len(eg.Exercises))
		for _, ex := range eg.Exercises {
			if owner, dup := p.groupByExercise[ex.ID]; dup && owner != eg.ID {
				return nil, apperror.InvalidConfig("exercise %d belongs to groups %d and %d", ex.ID, owner, eg.ID)
			}
			ids = append(ids, ex.ID)
			p.groupByExercise[ex.ID] = eg.ID
			p.exercises[ex.ID] = ex
		}
		p.groups = append(p.groups, group{id: eg.ID, mandatory: eg.Mandatory, candidates: ids})
	}

	if exam.QuizPool != nil {
		p.hasQuizPool = true
		seen := make(map[int64]int64)
		for _, qg := range exam.QuizPool.Groups {
			ids := make([]int64, 0, len(qg.Questions))
			for _, q := range qg.Questions {
				if owner, dup := seen[q.ID]; dup && owner != qg.ID {
					return nil, apperror.InvalidConfig("quiz question %d belongs to quiz groups %d and %d", q.ID, owner, qg.ID)
				}
				seen[q.ID] = qg.ID
				ids = append(ids, q.ID)
			}
			p.quizGroups = append(p.quizGroups, quizGroup{id: qg.ID, questions: ids})
		}
		for _, q := range exam.QuizPool.UngroupedQuestions {
			if owner, dup := seen[q.ID]; dup {
				return nil, apperror.InvalidConfig("ungrouped quiz question %d also belongs to quiz group %d", q.ID, owner)
			}
			p.ungrouped = append(p.ungrouped, q.ID)
		}
	}

	return p, nil
}

// NumberOfGroups returns the number of exercise groups.
func (p *Pool) NumberOfGroups() int { return len(p.groups) }

// NumberOfMandatoryGroups returns how many groups every participant must receive.
func (p *Pool) NumberOfMandatoryGroups() int {
	n := 0
	for _, g := range p.groups {
		if g.mandatory {
			n++
		}
	}
	return n
}

// Exercise looks up an exercise by ID.
func (p *Pool) Exercise(id int64) (model.Exercise, bool) {
	ex, ok := p.exercises[id]
	return ex, ok
}

// GroupOf returns the exercise group an exercise belongs to.
func (p *Pool) GroupOf(exerciseID int64) (int64, bool) {
	g, ok := p.groupByExercise[exerciseID]
	return g, ok
}

// HasQuizPool reports whether the exam defines a quiz pool, even an empty one.
func (p *Pool) HasQuizPool() bool { return p.hasQuizPool }

// QuizQuestionCount is the number of quiz questions every participant receives.
func (p *Pool) QuizQuestionCount() int {
	if !p.hasQuizPool {
		return 0
	}
	return len(p.quizGroups) + len(p.ungrouped)
}

package service

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

type fakeExams struct {
	exams      map[uuid.UUID]*model.Exam
	registered map[uuid.UUID][]int
	updates    int
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, apperror.NotFound("exam", id)
	}
	cp := *e
	cp.ExerciseGroups, cp.QuizPool = nil, nil
	return &cp, nil
}

func (f *fakeExams) GetWithExercises(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, apperror.NotFound("exam", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExams) UpdateSchedule(_ context.Context, e *model.Exam) error {
	stored, ok := f.exams[e.ID]
	if !ok {
		return apperror.NotFound("exam", e.ID)
	}
	groups, pool := stored.ExerciseGroups, stored.QuizPool
	cp := *e
	cp.ExerciseGroups, cp.QuizPool = groups, pool
	f.exams[e.ID] = &cp
	f.updates++
	return nil
}

func (f *fakeExams) ListRegisteredStudents(_ context.Context, examID uuid.UUID) ([]int, error) {
	return f.registered[examID], nil
}

type fakeStudentExams struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.StudentExam
	replaced int
	removed  []uuid.UUID
	// writeErr fails every write without touching the stored exams.
	writeErr error
}

func newFakeStudentExams(existing ...model.StudentExam) *fakeStudentExams {
	f := &fakeStudentExams{byID: make(map[uuid.UUID]*model.StudentExam)}
	for i := range existing {
		se := existing[i]
		f.byID[se.ID] = &se
	}
	return f
}

func (f *fakeStudentExams) GetByID(_ context.Context, id uuid.UUID) (*model.StudentExam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	se, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("student exam", id)
	}
	cp := *se
	return &cp, nil
}

func (f *fakeStudentExams) ListByExam(_ context.Context, examID uuid.UUID) ([]model.StudentExam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.StudentExam
	for _, se := range f.byID {
		if se.ExamID == examID {
			out = append(out, *se)
		}
	}
	slices.SortFunc(out, func(a, b model.StudentExam) int { return a.StudentID - b.StudentID })
	return out, nil
}

func (f *fakeStudentExams) CreateBatch(_ context.Context, ses []*model.StudentExam) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return f.insertLocked(ses), nil
}

func (f *fakeStudentExams) insertLocked(ses []*model.StudentExam) []uuid.UUID {
	var inserted []uuid.UUID
	for _, se := range ses {
		dup := false
		for _, have := range f.byID {
			if !se.TestRun && !have.TestRun && have.ExamID == se.ExamID && have.StudentID == se.StudentID {
				dup = true
			}
		}
		if dup {
			continue
		}
		cp := *se
		f.byID[se.ID] = &cp
		inserted = append(inserted, se.ID)
	}
	return inserted
}

func (f *fakeStudentExams) ReplaceRoster(_ context.Context, regenerated, created []*model.StudentExam, removed []uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	for _, id := range removed {
		delete(f.byID, id)
	}
	f.removed = append(f.removed, removed...)
	for _, se := range regenerated {
		cp := *se
		f.byID[se.ID] = &cp
		f.replaced++
	}
	return f.insertLocked(created), nil
}

func (f *fakeStudentExams) UpdateWorkingTime(_ context.Context, id uuid.UUID, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	se, ok := f.byID[id]
	if !ok {
		return apperror.NotFound("student exam", id)
	}
	se.WorkingTime = &seconds
	return nil
}

func (f *fakeStudentExams) MarkStarted(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	se := f.byID[id]
	if se.StartedDate == nil {
		se.StartedDate = &at
	}
	se.Started = true
	return nil
}

func (f *fakeStudentExams) MarkSubmitted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	se := f.byID[id]
	if se.Submitted {
		return false, nil
	}
	se.Submitted, se.SubmissionDate = true, &at
	return true, nil
}

type fakeParticipations struct {
	created map[int][]int64
	list    []model.Participation
}

func (f *fakeParticipations) CreateBatch(_ context.Context, studentID int, exerciseIDs []int64) error {
	if f.created == nil {
		f.created = make(map[int][]int64)
	}
	for _, id := range exerciseIDs {
		if !slices.Contains(f.created[studentID], id) {
			f.created[studentID] = append(f.created[studentID], id)
		}
	}
	return nil
}

func (f *fakeParticipations) ListWithResults(_ context.Context, exerciseIDs []int64) ([]model.Participation, error) {
	var out []model.Participation
	for _, p := range f.list {
		if slices.Contains(exerciseIDs, p.ExerciseID) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeScales struct {
	byExam  map[uuid.UUID]*model.GradingScale
	byID    map[int64]*model.GradingScale
	bonuses map[int64]*model.Bonus
	course  map[int64][]model.Exercise
	nextID  int64
}

func (f *fakeScales) GetByID(_ context.Context, id int64) (*model.GradingScale, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, apperror.NotFound("grading scale", id)
}

func (f *fakeScales) GetByExam(_ context.Context, examID uuid.UUID) (*model.GradingScale, error) {
	if s, ok := f.byExam[examID]; ok {
		return s, nil
	}
	return nil, apperror.NotFound("grading scale", examID)
}

func (f *fakeScales) GetBonusByTarget(_ context.Context, id int64) (*model.Bonus, error) {
	if b, ok := f.bonuses[id]; ok {
		return b, nil
	}
	return nil, apperror.NotFound("bonus for grading scale", id)
}

func (f *fakeScales) ListCourseExercises(_ context.Context, courseID int64) ([]model.Exercise, error) {
	return f.course[courseID], nil
}

func (f *fakeScales) Upsert(_ context.Context, s *model.GradingScale) (int64, error) {
	if f.byID == nil {
		f.byID = make(map[int64]*model.GradingScale)
	}
	f.nextID++
	s.ID = f.nextID
	f.byID[s.ID] = s
	return s.ID, nil
}

func (f *fakeScales) UpsertBonus(_ context.Context, b *model.Bonus) error {
	if f.bonuses == nil {
		f.bonuses = make(map[int64]*model.Bonus)
	}
	f.bonuses[b.TargetGradingScaleID] = b
	return nil
}

type fakePlagiarism struct {
	cases []model.PlagiarismCase
}

func (f *fakePlagiarism) ListByExercises(_ context.Context, ids []int64) ([]model.PlagiarismCase, error) {
	var out []model.PlagiarismCase
	for _, c := range f.cases {
		if slices.Contains(ids, c.ExerciseID) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeSessions struct {
	sessions []model.ExamSession
}

func (f *fakeSessions) ListByExam(context.Context, uuid.UUID) ([]model.ExamSession, error) {
	return f.sessions, nil
}

type fakeNotifier struct {
	exam    []workingtime.Change
	calls   int
	student []workingtime.Change
}

func (f *fakeNotifier) NotifyExamWorkingTime(_ context.Context, _ uuid.UUID, changes []workingtime.Change) error {
	f.calls++
	f.exam = changes
	return nil
}

func (f *fakeNotifier) NotifyStudentExamWorkingTime(_ context.Context, change workingtime.Change) error {
	f.student = append(f.student, change)
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, apperror.ErrGenerationInProgress
	}
	f.held[key] = true
	return func(context.Context) error {
		delete(f.held, key)
		f.released++
		return nil
	}, nil
}

type fakeQueue struct {
	pushed map[string][]any
}

func (f *fakeQueue) Push(_ context.Context, queue string, payloads ...any) error {
	if f.pushed == nil {
		f.pushed = make(map[string][]any)
	}
	f.pushed[queue] = append(f.pushed[queue], payloads...)
	return nil
}

type fakePublisher struct {
	published map[string][]any
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload any) error {
	if f.published == nil {
		f.published = make(map[string][]any)
	}
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

type fakeCache struct {
	values map[string][]byte
	gets   int
}

func (f *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	f.gets++
	data, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (f *fakeCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	if f.values == nil {
		f.values = make(map[string][]byte)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.values[key] = data
	return nil
}

package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/examgen"
	"github.com/stemsi/exstem-engine/internal/model"
)

type studentExamFixture struct {
	exam           *model.Exam
	exams          *fakeExams
	studentExams   *fakeStudentExams
	participations *fakeParticipations
	locker         *fakeLocker
	queue          *fakeQueue
	svc            *StudentExamService
}

func newStudentExamFixture(t *testing.T, registered []int, existing ...model.StudentExam) *studentExamFixture {
	t.Helper()
	f := &studentExamFixture{
		exam:           newTestExam(t),
		participations: &fakeParticipations{},
		locker:         &fakeLocker{},
		queue:          &fakeQueue{},
	}
	f.exams = newFakeExams(f.exam)
	f.exams.registered[f.exam.ID] = registered
	for i := range existing {
		existing[i].ExamID = f.exam.ID
		if existing[i].ID == uuid.Nil {
			existing[i].ID = uuid.New()
		}
	}
	f.studentExams = newFakeStudentExams(existing...)
	f.svc = NewStudentExamService(f.exams, f.studentExams, f.participations,
		examgen.NewGenerator(examgen.WithSeed(42)), f.locker, f.queue, time.Minute, zerolog.Nop())
	f.svc.now = clock(examStart.Add(-time.Hour))
	return f
}

func studentIDs(ses []*model.StudentExam) []int {
	out := make([]int, 0, len(ses))
	for _, se := range ses {
		out = append(out, se.StudentID)
	}
	slices.Sort(out)
	return out
}

func TestGenerateMissing_CreatesOnlyMissing(t *testing.T) {
	f := newStudentExamFixture(t, []int{1, 2, 3}, model.StudentExam{StudentID: 2, ExerciseIDs: []int64{101, 201}})
	existing, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)

	got, err := f.svc.GenerateMissing(context.Background(), f.exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ids := studentIDs(got.Created); !slices.Equal(ids, []int{1, 3}) {
		t.Errorf("created for %v, want [1 3]", ids)
	}
	all, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)
	if len(all) != 3 {
		t.Errorf("store has %d student exams, want 3", len(all))
	}
	for _, se := range all {
		if se.StudentID == 2 && !slices.Equal(se.ExerciseIDs, existing[0].ExerciseIDs) {
			t.Error("existing student exam was modified")
		}
	}
	if f.locker.released != 1 {
		t.Errorf("lock released %d times, want 1", f.locker.released)
	}

	again, err := f.svc.GenerateMissing(context.Background(), f.exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Created) != 0 {
		t.Errorf("second run created %d student exams, want 0", len(again.Created))
	}
}

func TestGenerateMissing_InvalidConfigPersistsNothing(t *testing.T) {
	f := newStudentExamFixture(t, []int{1, 2})
	k := 3
	f.exam.NumberOfExercisesInExam = &k

	_, err := f.svc.GenerateMissing(context.Background(), f.exam.ID)
	if !errors.Is(err, apperror.ErrInvalidExamConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidExamConfiguration", err)
	}
	all, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)
	if len(all) != 0 {
		t.Errorf("store has %d student exams, want 0", len(all))
	}
	if f.locker.released != 1 {
		t.Error("lock not released after failure")
	}
}

func TestGenerateMissing_LockHeld(t *testing.T) {
	f := newStudentExamFixture(t, []int{1})
	f.locker.held = map[string]bool{config.CacheKey.GenerationLockKey(f.exam.ID.String()): true}

	_, err := f.svc.GenerateMissing(context.Background(), f.exam.ID)
	if !errors.Is(err, apperror.ErrGenerationInProgress) {
		t.Fatalf("err = %v, want ErrGenerationInProgress", err)
	}
}

func TestGenerateAll_RegeneratesAndCleansUp(t *testing.T) {
	kept := model.StudentExam{StudentID: 1, ExerciseIDs: []int64{101, 201}}
	wt := 9000
	kept.WorkingTime = &wt
	gone := model.StudentExam{StudentID: 9, ExerciseIDs: []int64{102, 202}}
	f := newStudentExamFixture(t, []int{1, 2}, kept, gone)
	before, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)

	got, err := f.svc.GenerateAll(context.Background(), f.exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Regenerated) != 1 || got.Regenerated[0].ID != before[0].ID {
		t.Fatalf("regenerated = %+v, want the existing exam of student 1", got.Regenerated)
	}
	if w := got.Regenerated[0].WorkingTime; w == nil || *w != 9000 {
		t.Errorf("working time override lost: %v", w)
	}
	if ids := studentIDs(got.Created); !slices.Equal(ids, []int{2}) {
		t.Errorf("created for %v, want [2]", ids)
	}
	if len(got.Removed) != 1 || got.Removed[0] != before[1].ID {
		t.Errorf("removed = %v, want student 9's exam", got.Removed)
	}

	var cleanedFor9 bool
	for _, p := range f.queue.pushed[config.WorkerKey.DeleteParticipationsQueue] {
		c := p.(model.ParticipationCleanup)
		if c.StudentID == 9 && slices.Equal(c.ExerciseIDs, []int64{102, 202}) {
			cleanedFor9 = true
		}
		if c.StudentID == 1 {
			for _, id := range c.ExerciseIDs {
				if slices.Contains(got.Regenerated[0].ExerciseIDs, id) {
					t.Errorf("participation in still selected exercise %d queued for deletion", id)
				}
			}
		}
	}
	if !cleanedFor9 {
		t.Error("participations of deregistered student were not queued for deletion")
	}
}

func TestGenerateAll_StoreFailureChangesNothing(t *testing.T) {
	f := newStudentExamFixture(t, []int{1, 2, 3}, model.StudentExam{StudentID: 2, ExerciseIDs: []int64{102, 202}})
	f.studentExams.writeErr = errors.New("db down")
	before, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)

	_, err := f.svc.GenerateAll(context.Background(), f.exam.ID)
	if err == nil {
		t.Fatal("expected an error")
	}

	after, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)
	if len(after) != 1 {
		t.Fatalf("store has %d student exams, want 1", len(after))
	}
	if !slices.Equal(after[0].ExerciseIDs, before[0].ExerciseIDs) {
		t.Errorf("selection = %v, want unchanged %v", after[0].ExerciseIDs, before[0].ExerciseIDs)
	}
	if f.studentExams.replaced != 0 {
		t.Errorf("replaced %d selections, want 0", f.studentExams.replaced)
	}
	if n := len(f.queue.pushed[config.WorkerKey.DeleteParticipationsQueue]); n != 0 {
		t.Errorf("queued %d cleanups for an uncommitted roster", n)
	}
	if f.locker.released != 1 {
		t.Error("lock not released after failure")
	}
}

func TestGenerateAll_RejectedOnceStarted(t *testing.T) {
	f := newStudentExamFixture(t, []int{1})
	f.svc.now = clock(examStart.Add(time.Minute))

	_, err := f.svc.GenerateAll(context.Background(), f.exam.ID)
	if !errors.Is(err, apperror.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCreateTestRun(t *testing.T) {
	f := newStudentExamFixture(t, nil)

	se, err := f.svc.CreateTestRun(context.Background(), f.exam.ID, 500, model.CreateTestRunRequest{
		ExerciseIDs: []int64{102, 201},
		WorkingTime: 1800,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !se.TestRun || se.StudentID != 500 {
		t.Errorf("test run = %+v", se)
	}
	if !slices.Equal(f.participations.created[500], []int64{102, 201}) {
		t.Errorf("participations = %v", f.participations.created[500])
	}

	_, err = f.svc.CreateTestRun(context.Background(), f.exam.ID, 500, model.CreateTestRunRequest{
		ExerciseIDs: []int64{101, 102},
		WorkingTime: 1800,
	})
	if !errors.Is(err, apperror.ErrInvalidArgument) {
		t.Errorf("two exercises of one group: err = %v, want ErrInvalidArgument", err)
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		student int
		wantErr error
	}{
		{"during the exam", examStart.Add(time.Minute), 5, nil},
		{"other student", examStart.Add(time.Minute), 6, ErrNotStudentExamOwner},
		{"before start", examStart.Add(-time.Minute), 5, ErrExamNotStarted},
		{"after grace period", examStart.Add(2*time.Hour + 4*time.Minute), 5, ErrExamOver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStudentExamFixture(t, []int{5}, model.StudentExam{StudentID: 5, ExerciseIDs: []int64{101, 202}})
			all, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)
			f.svc.now = clock(tt.now)

			got, err := f.svc.Start(context.Background(), all[0].ID, tt.student)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if len(f.participations.created) != 0 {
					t.Error("participations created for a rejected start")
				}
				return
			}
			if !got.StudentExam.Started {
				t.Error("student exam not marked started")
			}
			if want := examStart.Add(2 * time.Hour); !got.EndDate.Equal(want) {
				t.Errorf("end date = %v, want %v", got.EndDate, want)
			}
			if !slices.Equal(f.participations.created[5], []int64{101, 202}) {
				t.Errorf("participations = %v", f.participations.created[5])
			}
		})
	}
}

func TestSubmit_Twice(t *testing.T) {
	f := newStudentExamFixture(t, []int{5}, model.StudentExam{StudentID: 5, ExerciseIDs: []int64{101, 202}})
	all, _ := f.studentExams.ListByExam(context.Background(), f.exam.ID)
	// late but within the grace period
	f.svc.now = clock(examStart.Add(2*time.Hour + time.Minute))

	se, err := f.svc.Submit(context.Background(), all[0].ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !se.Submitted || se.SubmissionDate == nil {
		t.Errorf("submission not recorded: %+v", se)
	}
	if _, err := f.svc.Submit(context.Background(), all[0].ID, 5); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second submit err = %v, want ErrAlreadySubmitted", err)
	}
}

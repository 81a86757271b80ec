package service

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
)

var examStart = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

// newTestExam has two mandatory groups of two exercises each (101, 102 and 201, 202),
// a two hour window and 20 max points.
func newTestExam(t *testing.T) *model.Exam {
	t.Helper()
	k := 2
	id := uuid.New()
	group := func(gid int64) model.ExerciseGroup {
		g := model.ExerciseGroup{ID: gid, ExamID: id, Title: "Group", Mandatory: true}
		for n := int64(1); n <= 2; n++ {
			g.Exercises = append(g.Exercises, model.Exercise{
				ID:                     gid*100 + n,
				ExerciseGroupID:        gid,
				Title:                  "Exercise",
				MaxPoints:              10,
				IncludedInOverallScore: model.IncludedCompletely,
			})
		}
		return g
	}
	return &model.Exam{
		ID:                             id,
		CourseID:                       1,
		Title:                          "Final exam",
		VisibleDate:                    examStart.Add(-24 * time.Hour),
		StartDate:                      examStart,
		EndDate:                        examStart.Add(2 * time.Hour),
		GracePeriod:                    180,
		NumberOfExercisesInExam:        &k,
		NumberOfCorrectionRoundsInExam: 1,
		ExamMaxPoints:                  20,
		ExerciseGroups:                 []model.ExerciseGroup{group(1), group(2)},
	}
}

func studentExamFor(exam *model.Exam, studentID int) model.StudentExam {
	return model.StudentExam{
		ID:          uuid.New(),
		ExamID:      exam.ID,
		StudentID:   studentID,
		ExerciseIDs: []int64{101, 201},
		CreatedAt:   examStart.Add(-time.Hour),
	}
}

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newFakeExams(exams ...*model.Exam) *fakeExams {
	f := &fakeExams{exams: make(map[uuid.UUID]*model.Exam), registered: make(map[uuid.UUID][]int)}
	for _, e := range exams {
		f.exams[e.ID] = e
	}
	return f
}

// Package workingtime resolves individual working times and deadlines of student exams.
// All functions are pure and safe for concurrent use.
package workingtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/model"
)

// RegularWorkingTimeSeconds is the working time a participant gets without an override:
// the conduction window for proctored exams, the configured working time for test exams.
func RegularWorkingTimeSeconds(exam *model.Exam) int {
	if exam.TestExam && exam.WorkingTime != nil {
		return *exam.WorkingTime
	}
	return int(exam.EndDate.Sub(exam.StartDate) / time.Second)
}

// EffectiveWorkingTimeSeconds returns the student exam's override if set, else the regular working time.
func EffectiveWorkingTimeSeconds(exam *model.Exam, se *model.StudentExam) int {
	if se != nil && se.WorkingTime != nil {
		return *se.WorkingTime
	}
	return RegularWorkingTimeSeconds(exam)
}

// IndividualEndDate is the exam start plus the effective working time.
func IndividualEndDate(exam *model.Exam, se *model.StudentExam) time.Time {
	return exam.StartDate.Add(time.Duration(EffectiveWorkingTimeSeconds(exam, se)) * time.Second)
}

// IndividualEndDateWithGracePeriod extends the individual end date by the exam's grace period.
func IndividualEndDateWithGracePeriod(exam *model.Exam, se *model.StudentExam) time.Time {
	return IndividualEndDate(exam, se).Add(time.Duration(exam.GracePeriod) * time.Second)
}

// LatestIndividualEndDate is the maximum individual end date over all non test run student exams,
// or the exam end date if there are none.
func LatestIndividualEndDate(exam *model.Exam, studentExams []model.StudentExam) time.Time {
	var latest time.Time
	found := false
	for i := range studentExams {
		se := &studentExams[i]
		if se.TestRun {
			continue
		}
		end := IndividualEndDate(exam, se)
		if !found || end.After(latest) {
			latest, found = end, true
		}
	}
	if !found {
		return exam.EndDate
	}
	return latest
}

// IsExamWithGracePeriodOver reports whether now is past the exam end date plus grace period.
func IsExamWithGracePeriodOver(exam *model.Exam, now time.Time) bool {
	return now.After(exam.EndDate.Add(time.Duration(exam.GracePeriod) * time.Second))
}

// IsStudentExamOver reports whether the participant can no longer submit.
func IsStudentExamOver(exam *model.Exam, se *model.StudentExam, now time.Time) bool {
	if se.Submitted {
		return true
	}
	return now.After(IndividualEndDateWithGracePeriod(exam, se))
}

// Change is the working-time change of one student exam caused by a reschedule.
type Change struct {
	StudentExamID  uuid.UUID `json:"student_exam_id"`
	StudentID      int       `json:"student_id"`
	OldWorkingTime int       `json:"old_working_time"`
	NewWorkingTime int       `json:"new_working_time"`
}

// Impact describes whether an exam update must be announced to running participants.
type Impact struct {
	Notify  bool
	Changes []Change
}

// RescheduleImpact compares the exam before and after an update. Participants are notified
// only when at least one student exam exists and the start or end date moved by a full
// second or more, or the title changed.
func RescheduleImpact(before, after *model.Exam, studentExams []model.StudentExam) Impact {
	var active []*model.StudentExam
	for i := range studentExams {
		if !studentExams[i].TestRun {
			active = append(active, &studentExams[i])
		}
	}
	if len(active) == 0 {
		return Impact{}
	}

	moved := movedBySecond(before.StartDate, after.StartDate) || movedBySecond(before.EndDate, after.EndDate)
	if !moved && before.Title == after.Title {
		return Impact{}
	}

	changes := make([]Change, 0, len(active))
	for _, se := range active {
		changes = append(changes, Change{
			StudentExamID:  se.ID,
			StudentID:      se.StudentID,
			OldWorkingTime: EffectiveWorkingTimeSeconds(before, se),
			NewWorkingTime: EffectiveWorkingTimeSeconds(after, se),
		})
	}
	return Impact{Notify: true, Changes: changes}
}

func movedBySecond(a, b time.Time) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d >= time.Second
}

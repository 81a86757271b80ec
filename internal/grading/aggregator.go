// Package grading aggregates exercise results into exam points, scores and grades,
// including plagiarism adjustments and bonus blending.
package grading

import (
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/model"
)

// StudentResultInput is a consistent snapshot of everything needed to grade one student exam.
// Participations and plagiarism cases may contain other students; they are filtered by StudentID.
type StudentResultInput struct {
	Exam        *model.Exam
	StudentExam *model.StudentExam

	Participations  []model.Participation
	PlagiarismCases []model.PlagiarismCase

	// CorrectionRound selects the result of that round when the exam has several rounds.
	CorrectionRound *int
	// Accuracy is the number of decimals points and scores are rounded to.
	Accuracy int

	// Scale is the exam's grading scale; nil leaves all grade fields empty.
	Scale *model.GradingScale
	// Bonus blends a second scale into the grade; nil disables blending.
	Bonus *BonusSource
}

// ExerciseResult is the contribution of one exercise to a student result.
type ExerciseResult struct {
	ExerciseID     int64                        `json:"exercise_id"`
	Title          string                       `json:"title"`
	MaxPoints      float64                      `json:"max_points"`
	AchievedScore  float64                      `json:"achieved_score"`
	AchievedPoints float64                      `json:"achieved_points"`
	IncludedAs     model.IncludedInOverallScore `json:"included_in_overall_score"`
	HasResult      bool                         `json:"has_result"`
	Verdict        model.PlagiarismVerdict      `json:"plagiarism_verdict,omitempty"`
}

// StudentResult is the graded outcome of one student exam.
type StudentResult struct {
	StudentExamID   uuid.UUID        `json:"student_exam_id"`
	StudentID       int              `json:"student_id"`
	Submitted       bool             `json:"submitted"`
	OverallPoints   float64          `json:"overall_points"`
	OverallScore    float64          `json:"overall_score"`
	Grade           *string          `json:"grade"`
	HasPassed       *bool            `json:"has_passed"`
	Plagiarism      bool             `json:"plagiarism"`
	ExerciseResults []ExerciseResult `json:"exercise_results"`
	Bonus           *BonusResult     `json:"bonus,omitempty"`
}

// ComputeStudentResult grades one student exam.
//
// Exercises NOT_INCLUDED are skipped, INCLUDED_AS_BONUS points only count toward the numerator.
// The total is rounded once, never per exercise. A missing result counts as zero.
func ComputeStudentResult(in StudentResultInput) (*StudentResult, error) {
	exam, se := in.Exam, in.StudentExam
	if exam.ExamMaxPoints <= 0 {
		return nil, apperror.InvalidConfig("exam %s has no positive max points", exam.ID)
	}

	exercises := exercisesByID(exam)
	byExercise := participationsOf(in.Participations, se.StudentID)
	verdicts := casesOf(in.PlagiarismCases, se.StudentID)

	res := &StudentResult{
		StudentExamID:   se.ID,
		StudentID:       se.StudentID,
		Submitted:       se.Submitted,
		ExerciseResults: make([]ExerciseResult, 0, len(se.ExerciseIDs)),
	}

	var total float64
	anyResult := false
	for _, id := range se.ExerciseIDs {
		ex, ok := exercises[id]
		if !ok {
			return nil, apperror.InvalidConfig("student exam %s references exercise %d outside the exam", se.ID, id)
		}
		er := ExerciseResult{
			ExerciseID: ex.ID,
			Title:      ex.Title,
			MaxPoints:  ex.MaxPoints,
			IncludedAs: ex.IncludedInOverallScore,
		}

		if r := finalResult(byExercise[id], in.CorrectionRound, exam.HasMultipleCorrectionRounds()); r != nil {
			er.HasResult = true
			er.AchievedScore = r.Score
			er.AchievedPoints = achievedPoints(ex, r.Score)
			anyResult = true
		}

		if c, ok := verdicts[id]; ok {
			er.Verdict = c.Verdict
			switch c.Verdict {
			case model.VerdictPlagiarism:
				er.AchievedPoints = 0
				res.Plagiarism = true
			case model.VerdictPointDeduction:
				er.AchievedPoints = deduct(er.AchievedPoints, c.VerdictPointDeduction)
			}
		}

		if ex.IncludedInOverallScore != model.NotIncluded {
			total += er.AchievedPoints
		}
		er.AchievedPoints = RoundScore(er.AchievedPoints, in.Accuracy)
		res.ExerciseResults = append(res.ExerciseResults, er)
	}

	res.OverallPoints = RoundScore(total, in.Accuracy)
	res.OverallScore = RoundScore(res.OverallPoints/float64(exam.ExamMaxPoints)*100, in.Accuracy)

	if in.Scale == nil {
		return res, nil
	}

	var targetStep *model.GradeStep
	switch {
	case res.Plagiarism:
		res.Grade = ptr(in.Scale.PlagiarismGradeOrDefault())
		res.HasPassed = ptr(false)
	case !se.Submitted && !anyResult && in.Scale.NoParticipationGrade != "":
		res.Grade = ptr(in.Scale.NoParticipationGrade)
		res.HasPassed = ptr(false)
	default:
		targetStep = MatchGradeStep(in.Scale, res.OverallScore)
		if targetStep != nil {
			res.Grade = ptr(targetStep.GradeName)
			res.HasPassed = ptr(targetStep.IsPassingGrade)
		}
	}

	if in.Bonus != nil {
		br, err := blend(in, res, targetStep)
		if err != nil {
			return nil, err
		}
		res.Bonus = br
	}
	return res, nil
}

func exercisesByID(exam *model.Exam) map[int64]model.Exercise {
	out := make(map[int64]model.Exercise)
	for _, g := range exam.ExerciseGroups {
		for _, ex := range g.Exercises {
			out[ex.ID] = ex
		}
	}
	return out
}

func participationsOf(ps []model.Participation, studentID int) map[int64][]*model.Participation {
	out := make(map[int64][]*model.Participation)
	for i := range ps {
		if ps[i].StudentID == studentID {
			out[ps[i].ExerciseID] = append(out[ps[i].ExerciseID], &ps[i])
		}
	}
	return out
}

// casesOf keeps the most severe verdict per exercise.
func casesOf(cases []model.PlagiarismCase, studentID int) map[int64]model.PlagiarismCase {
	out := make(map[int64]model.PlagiarismCase)
	for _, c := range cases {
		if c.StudentID != studentID || c.Verdict == model.VerdictNone || c.Verdict == model.VerdictWarning {
			continue
		}
		prev, ok := out[c.ExerciseID]
		if !ok || severity(c) > severity(prev) {
			out[c.ExerciseID] = c
		}
	}
	return out
}

func severity(c model.PlagiarismCase) int {
	if c.Verdict == model.VerdictPlagiarism {
		return 101
	}
	return c.VerdictPointDeduction
}

// finalResult picks the result that counts: the correction round's result when rounds are
// requested on a multi-round exam, else the latest completed one.
func finalResult(ps []*model.Participation, round *int, multipleRounds bool) *model.Result {
	if round != nil && multipleRounds {
		for _, p := range ps {
			if *round >= 0 && *round < len(p.Results) {
				if r := &p.Results[*round]; r.CompletionDate != nil {
					return r
				}
			}
		}
		return nil
	}
	return latestCompleted(ps)
}

// latestCompleted returns the completed result with the latest completion date across all
// participations. Multiple results for one exercise are never summed.
func latestCompleted(ps []*model.Participation) *model.Result {
	var latest *model.Result
	var at time.Time
	for _, p := range ps {
		for i := range p.Results {
			r := &p.Results[i]
			if r.CompletionDate == nil {
				continue
			}
			if latest == nil || !r.CompletionDate.Before(at) {
				latest, at = r, *r.CompletionDate
			}
		}
	}
	return latest
}

// achievedPoints is maxPoints * score / 100, capped at max plus bonus points.
func achievedPoints(ex model.Exercise, score float64) float64 {
	pts := ex.MaxPoints * score / 100
	if limit := ex.MaxPoints + ex.BonusPoints; pts > limit {
		return limit
	}
	if pts < 0 {
		return 0
	}
	return pts
}

func deduct(points float64, percent int) float64 {
	if percent <= 0 {
		return points
	}
	if percent >= 100 {
		return 0
	}
	return points * float64(100-percent) / 100
}

func ptr[T any](v T) *T { return &v }

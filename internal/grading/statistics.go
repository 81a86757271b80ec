package grading

import (
	"slices"

	"github.com/stemsi/exstem-engine/internal/model"
)

// ExamScoresInput is the snapshot for grading a whole exam.
type ExamScoresInput struct {
	Exam            *model.Exam
	StudentExams    []model.StudentExam
	Participations  []model.Participation
	PlagiarismCases []model.PlagiarismCase
	CorrectionRound *int
	Accuracy        int
	Scale           *model.GradingScale
	Bonus           *BonusSource
}

// GroupAverage is the mean achieved points of one exercise group.
type GroupAverage struct {
	ExerciseGroupID int64   `json:"exercise_group_id"`
	Title           string  `json:"title"`
	Participants    int     `json:"participants"`
	AveragePoints   float64 `json:"average_points"`
}

// ExamStatistics aggregates student results. Test runs are never counted.
type ExamStatistics struct {
	Participants  int            `json:"participants"`
	Submitted     int            `json:"submitted"`
	Passed        int            `json:"passed"`
	AveragePoints float64        `json:"average_points"`
	MedianPoints  float64        `json:"median_points"`
	AverageScore  float64        `json:"average_score"`
	Groups        []GroupAverage `json:"exercise_groups"`
}

// ExamScores is the graded exam.
type ExamScores struct {
	Results    []*StudentResult `json:"student_results"`
	Statistics ExamStatistics   `json:"statistics"`
}

// ComputeExamScores grades every non test run student exam and derives statistics.
func ComputeExamScores(in ExamScoresInput) (*ExamScores, error) {
	out := &ExamScores{Results: make([]*StudentResult, 0, len(in.StudentExams))}

	for i := range in.StudentExams {
		se := &in.StudentExams[i]
		if se.TestRun {
			continue
		}
		res, err := ComputeStudentResult(StudentResultInput{
			Exam:            in.Exam,
			StudentExam:     se,
			Participations:  in.Participations,
			PlagiarismCases: in.PlagiarismCases,
			CorrectionRound: in.CorrectionRound,
			Accuracy:        in.Accuracy,
			Scale:           in.Scale,
			Bonus:           in.Bonus,
		})
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, res)
	}

	out.Statistics = statistics(in.Exam, out.Results, in.Accuracy)
	return out, nil
}

func statistics(exam *model.Exam, results []*StudentResult, accuracy int) ExamStatistics {
	st := ExamStatistics{Participants: len(results)}
	if len(results) == 0 {
		return st
	}

	points := make([]float64, 0, len(results))
	var sumPoints, sumScore float64
	for _, r := range results {
		if r.Submitted {
			st.Submitted++
		}
		if passed(r) {
			st.Passed++
		}
		points = append(points, r.OverallPoints)
		sumPoints += r.OverallPoints
		sumScore += r.OverallScore
	}
	n := float64(len(results))
	st.AveragePoints = RoundScore(sumPoints/n, accuracy)
	st.AverageScore = RoundScore(sumScore/n, accuracy)
	st.MedianPoints = RoundScore(median(points), accuracy)
	st.Groups = groupAverages(exam, results, accuracy)
	return st
}

// passed prefers the bonus-blended outcome when there is one.
func passed(r *StudentResult) bool {
	if r.Bonus != nil && r.Bonus.HasPassed != nil {
		return *r.Bonus.HasPassed
	}
	return r.HasPassed != nil && *r.HasPassed
}

func median(v []float64) float64 {
	slices.Sort(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}

func groupAverages(exam *model.Exam, results []*StudentResult, accuracy int) []GroupAverage {
	groupOf := make(map[int64]int, len(exam.ExerciseGroups))
	out := make([]GroupAverage, len(exam.ExerciseGroups))
	sums := make([]float64, len(exam.ExerciseGroups))
	for i, g := range exam.ExerciseGroups {
		out[i] = GroupAverage{ExerciseGroupID: g.ID, Title: g.Title}
		for _, ex := range g.Exercises {
			groupOf[ex.ID] = i
		}
	}

	for _, r := range results {
		for _, er := range r.ExerciseResults {
			i, ok := groupOf[er.ExerciseID]
			if !ok {
				continue
			}
			out[i].Participants++
			sums[i] += er.AchievedPoints
		}
	}
	for i := range out {
		if out[i].Participants > 0 {
			out[i].AveragePoints = RoundScore(sums[i]/float64(out[i].Participants), accuracy)
		}
	}
	return out
}

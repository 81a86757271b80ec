package model

// PlagiarismVerdict is the outcome of a plagiarism case.
type PlagiarismVerdict string

const (
	VerdictNone           PlagiarismVerdict = ""
	VerdictPlagiarism     PlagiarismVerdict = "PLAGIARISM"
	VerdictPointDeduction PlagiarismVerdict = "POINT_DEDUCTION"
	VerdictWarning        PlagiarismVerdict = "WARNING"
)

// PlagiarismCase links one student and one exercise to a verdict.
type PlagiarismCase struct {
	ID                    int64             `json:"id"`
	StudentID             int               `json:"student_id"`
	ExerciseID            int64             `json:"exercise_id"`
	Verdict               PlagiarismVerdict `json:"verdict"`
	VerdictPointDeduction int               `json:"verdict_point_deduction"`
}

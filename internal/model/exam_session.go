package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamSession is a proctoring session record of one student exam. Records are
// immutable; reconnects create additional sessions.
type ExamSession struct {
	ID                     uuid.UUID `json:"id"`
	StudentExamID          uuid.UUID `json:"student_exam_id"`
	StudentID              int       `json:"student_id"`
	SessionToken           string    `json:"session_token"`
	UserAgent              string    `json:"user_agent"`
	BrowserFingerprintHash string    `json:"browser_fingerprint_hash"`
	InstanceID             string    `json:"instance_id"`
	IPAddress              string    `json:"ip_address"`
	InitialSession         bool      `json:"initial_session"`
	CreatedAt              time.Time `json:"created_at"`
}

// SuspiciousSessionsRequest selects the analysis criteria (query parameters).
type SuspiciousSessionsRequest struct {
	DifferentStudentExamsSameIPAddress          bool   `form:"differentStudentExamsSameIPAddress"`
	DifferentStudentExamsSameBrowserFingerprint bool   `form:"differentStudentExamsSameBrowserFingerprint"`
	SameStudentExamDifferentIPAddresses         bool   `form:"sameStudentExamDifferentIPAddresses"`
	SameStudentExamDifferentBrowserFingerprints bool   `form:"sameStudentExamDifferentBrowserFingerprints"`
	IPOutsideOfRange                            bool   `form:"ipOutsideOfRange"`
	IPSubnet                                    string `form:"ipSubnet" binding:"omitempty,cidr"`
}

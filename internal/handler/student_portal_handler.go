package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	headerFingerprint = "X-Browser-Fingerprint"
	headerInstanceID  = "X-Browser-Instance-Id"
)

// StudentPortalHandler handles student-facing conduction endpoints.
type StudentPortalHandler struct {
	studentExamService *service.StudentExamService
	proctoringService  *service.ProctoringService
	log                zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	studentExamService *service.StudentExamService,
	proctoringService *service.ProctoringService,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		studentExamService: studentExamService,
		proctoringService:  proctoringService,
		log:                log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetStudentExam godoc
// GET /api/v1/student/student-exams/:student_exam_id
// Returns the student's own student exam and individual deadline.
func (h *StudentPortalHandler) GetStudentExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}

	cond, err := h.studentExamService.Load(c.Request.Context(), studentExamID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, conductionBody(cond))
}

// StartStudentExam godoc
// POST /api/v1/student/student-exams/:student_exam_id/start
// Starts the student exam and records a proctoring session.
func (h *StudentPortalHandler) StartStudentExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	before, err := h.studentExamService.Load(ctx, studentExamID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	cond, err := h.studentExamService.Start(ctx, studentExamID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	session := newExamSession(c, cond.StudentExam, !before.StudentExam.Started)
	if err := h.proctoringService.RecordSession(ctx, cond.Exam.ID, session); err != nil {
		// the participant must not be blocked by proctoring bookkeeping
		h.log.Error().Err(err).Str("student_exam_id", studentExamID.String()).Msg("Failed to record exam session")
	}

	response.Success(c, http.StatusOK, conductionBody(cond))
}

// SubmitStudentExam godoc
// POST /api/v1/student/student-exams/:student_exam_id/submit
func (h *StudentPortalHandler) SubmitStudentExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}

	se, err := h.studentExamService.Submit(c.Request.Context(), studentExamID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student_exam": se})
}

func conductionBody(c *service.Conduction) gin.H {
	return gin.H{
		"exam":         c.Exam,
		"student_exam": c.StudentExam,
		"end_date":     c.EndDate,
	}
}

// newExamSession captures the client's connection details. Browsers cannot set
// headers on WebSocket upgrades, so query parameters are accepted as well.
func newExamSession(c *gin.Context, se *model.StudentExam, initial bool) *model.ExamSession {
	return &model.ExamSession{
		StudentExamID:          se.ID,
		StudentID:              se.StudentID,
		SessionToken:           uuid.NewString(),
		UserAgent:              c.Request.UserAgent(),
		BrowserFingerprintHash: headerOrQuery(c, headerFingerprint, "fingerprint"),
		InstanceID:             headerOrQuery(c, headerInstanceID, "instanceId"),
		IPAddress:              c.ClientIP(),
		InitialSession:         initial,
	}
}

func headerOrQuery(c *gin.Context, header, query string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return c.Query(query)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// ExamHandler handles exam management endpoints for course staff.
type ExamHandler struct {
	examService        *service.ExamService
	studentExamService *service.StudentExamService
	log                zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, studentExamService *service.StudentExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService:        examService,
		studentExamService: studentExamService,
		log:                log.With().Str("component", "exam_handler").Logger(),
	}
}

// GetExam godoc
// GET /api/v1/staff/exams/:exam_id
// Returns the exam with its structure and conduction overview.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	overview, err := h.examService.Overview(c.Request.Context(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": overview})
}

// UpdateExam godoc
// PUT /api/v1/staff/exams/:exam_id
// Reschedules the exam. Running participants are notified when their deadline moves.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.UpdateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	update, err := h.examService.UpdateExam(c.Request.Context(), examID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, update)
}

// UpdateWorkingTime godoc
// PUT /api/v1/staff/student-exams/:student_exam_id/working-time
// Sets an individual working time, e.g. for a disadvantage compensation.
func (h *ExamHandler) UpdateWorkingTime(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}

	var req model.UpdateWorkingTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	change, err := h.examService.UpdateWorkingTime(c.Request.Context(), studentExamID, req.WorkingTime)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"change": change})
}

// GenerateMissingStudentExams godoc
// POST /api/v1/staff/exams/:exam_id/student-exams/generate-missing
// Draws student exams for registered students that have none yet.
func (h *ExamHandler) GenerateMissingStudentExams(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	result, err := h.studentExamService.GenerateMissing(c.Request.Context(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// GenerateStudentExams godoc
// POST /api/v1/staff/exams/:exam_id/student-exams/generate
// Redraws every student exam. Only allowed before the exam starts.
func (h *ExamHandler) GenerateStudentExams(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	result, err := h.studentExamService.GenerateAll(c.Request.Context(), examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// CreateTestRun godoc
// POST /api/v1/staff/exams/:exam_id/test-runs
// Creates a test run owned by the calling instructor.
func (h *ExamHandler) CreateTestRun(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.CreateTestRunRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	testRun, err := h.studentExamService.CreateTestRun(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"student_exam": testRun})
}

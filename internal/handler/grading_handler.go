package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// GradingHandler serves exam scores and grading scale imports.
type GradingHandler struct {
	gradeService *service.GradeService
	scaleService *service.GradingScaleService
	log          zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradeService *service.GradeService, scaleService *service.GradingScaleService, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		gradeService: gradeService,
		scaleService: scaleService,
		log:          log.With().Str("component", "grading_handler").Logger(),
	}
}

// GetExamScores godoc
// GET /api/v1/staff/exams/:exam_id/scores?correctionRound=0&refresh=true
// Grades every participant. Without correctionRound the latest result counts.
func (h *GradingHandler) GetExamScores(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	round, ok := correctionRound(c)
	if !ok {
		return
	}
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	scores, err := h.gradeService.ExamScores(c.Request.Context(), examID, service.ScoresQuery{
		CorrectionRound: round,
		Refresh:         refresh,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, scores)
}

// GetStudentResult godoc
// GET /api/v1/staff/student-exams/:student_exam_id/result?correctionRound=0
func (h *GradingHandler) GetStudentResult(c *gin.Context) {
	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	round, ok := correctionRound(c)
	if !ok {
		return
	}

	result, err := h.gradeService.StudentResult(c.Request.Context(), studentExamID, round)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student_result": result})
}

// ImportGradingScale godoc
// POST /api/v1/staff/grading-scales
// Creates or replaces the grading scale of a course or exam, optionally with a bonus link.
func (h *GradingHandler) ImportGradingScale(c *gin.Context) {
	var req service.ScaleImport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	scale, err := h.scaleService.Import(c.Request.Context(), &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"grading_scale": scale})
}

// correctionRound parses the optional correctionRound query parameter.
func correctionRound(c *gin.Context) (*int, bool) {
	raw, present := c.GetQuery("correctionRound")
	if !present || raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"correctionRound": "correctionRound must be a non-negative integer",
		})
		return nil, false
	}
	return &n, true
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// classify maps service errors to a status code and an API error code.
// Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, apperror.ErrInvalidExamConfiguration):
		return http.StatusBadRequest, response.ErrInvalidExamConfiguration
	case errors.Is(err, apperror.ErrInvalidArgument):
		return http.StatusBadRequest, response.ErrInvalidArgument
	case errors.Is(err, apperror.ErrGenerationInProgress):
		return http.StatusConflict, response.ErrGenerationInProgress
	case errors.Is(err, service.ErrNotStudentExamOwner):
		return http.StatusForbidden, response.ErrPermissionDenied
	case errors.Is(err, service.ErrExamNotStarted):
		return http.StatusForbidden, response.ErrExamNotStarted
	case errors.Is(err, service.ErrExamOver):
		return http.StatusForbidden, response.ErrExamOver
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// fail writes err as an API error. Client errors carry their reason as detail;
// internal errors are logged and never leak.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
		response.Fail(c, status, code)
		return
	}
	response.FailWithDetail(c, status, code, err.Error())
}

// parseUUIDParam writes INVALID_ID and returns false when the path param is malformed.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

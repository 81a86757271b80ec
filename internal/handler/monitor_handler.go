package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/proctoring"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves session analysis and the live proctoring feed.
type MonitorHandler struct {
	rdb               *redis.Client
	proctoringService *service.ProctoringService
	log               zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, proctoringService *service.ProctoringService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:               rdb,
		proctoringService: proctoringService,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetSuspiciousSessions godoc
// GET /api/v1/staff/exams/:exam_id/suspicious-sessions?differentStudentExamsSameIPAddress=true&...
func (h *MonitorHandler) GetSuspiciousSessions(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.SuspiciousSessionsRequest
	if fields := validator.BindQuery(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	groups, err := h.proctoringService.SuspiciousSessions(c.Request.Context(), examID, proctoring.OptionsFromRequest(req))
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"suspicious_session_groups": groups})
}

// MonitorSessionsSSE godoc
// GET /api/v1/staff/exams/:exam_id/sessions/stream
// Streams new exam sessions as they connect. The same query parameters as
// suspicious-sessions select the criteria of the periodic analysis events.
func (h *MonitorHandler) MonitorSessionsSSE(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.SuspiciousSessionsRequest
	if fields := validator.BindQuery(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	opts := proctoring.OptionsFromRequest(req)

	reqCtx := c.Request.Context()

	sessions, err := h.proctoringService.Sessions(reqCtx, examID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	// SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{"exam_id": examID.String(), "sessions": sessions},
	})
	c.Writer.Flush()

	// Subscribe to Redis Pub/Sub
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamSessionsChannel(examID.String()))
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Only re-run the analysis once a new session arrived.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to session monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from session monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Forward raw JSON directly; sessions are already serialized by the publisher.
			c.Writer.Write([]byte(`data: {"type":"session","data":`))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("}\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty || !anyCriterion(opts) {
				continue
			}
			if h.sendAnalysis(c, reqCtx, examID, opts) {
				dirty = false
			}

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendAnalysis re-runs the session analysis and writes an analysis event.
func (h *MonitorHandler) sendAnalysis(c *gin.Context, parentCtx context.Context, examID uuid.UUID, opts proctoring.Options) bool {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	groups, err := h.proctoringService.SuspiciousSessions(ctx, examID, opts)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to refresh session analysis")
		return false
	}

	c.SSEvent("message", gin.H{
		"type": "analysis",
		"data": gin.H{"suspicious_session_groups": groups},
	})
	c.Writer.Flush()
	return true
}

func anyCriterion(o proctoring.Options) bool {
	return o.DifferentStudentExamsSameIPAddress ||
		o.DifferentStudentExamsSameBrowserFingerprint ||
		o.SameStudentExamDifferentIPAddresses ||
		o.SameStudentExamDifferentBrowserFingerprints ||
		o.IPOutsideOfRange
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the student conduction stream.
type WSHandler struct {
	rdb                *redis.Client
	studentExamService *service.StudentExamService
	proctoringService  *service.ProctoringService
	log                zerolog.Logger
	upgrader           websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	studentExamService *service.StudentExamService,
	proctoringService *service.ProctoringService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:                rdb,
		studentExamService: studentExamService,
		proctoringService:  proctoringService,
		log:                log.With().Str("component", "ws_handler").Logger(),
		upgrader:           buildUpgrader(allowedOrigins),
	}
}

// stream serializes writes; the read loop and the pub/sub forwarder share the connection.
type stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *stream) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteTyped(s.conn, v)
}

func (s *stream) fail(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteError(s.conn, msg)
}

// StudentExamStream godoc
// WS /ws/v1/student/student-exams/:student_exam_id/stream
// Records a proctoring session, accepts start and submit, and pushes working-time changes.
func (h *WSHandler) StudentExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}

	// Ownership and existence are checked before the upgrade so they map to HTTP errors.
	cond, err := h.studentExamService.Load(c.Request.Context(), studentExamID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	session := newExamSession(c, cond.StudentExam, !cond.StudentExam.Started)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	examID := cond.Exam.ID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("student_exam_id", studentExamID.String()).
		Logger()

	// The upgrade hijacks the connection; the request context is no longer reliable.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.proctoringService.RecordSession(ctx, examID, session); err != nil {
		wsLog.Error().Err(err).Msg("Failed to record exam session")
	}

	s := &stream{conn: conn}
	go h.forwardWorkingTime(ctx, s, wsLog, examID, studentExamID, studentID)

	wsLog.Info().Bool("initial_session", session.InitialSession).Msg("Student connected")

	for {
		action, err := ws.ReadAction(conn)
		if err != nil {
			if ws.UnexpectedClose(err) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch action {
		case ws.ActionStart:
			h.handleStart(ctx, s, wsLog, studentExamID, studentID)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, s, wsLog, studentExamID, studentID)
		case ws.ActionPing:
			_ = s.write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			_ = s.fail("unknown action: " + string(action))
		}
	}
}

func (h *WSHandler) handleStart(ctx context.Context, s *stream, wsLog zerolog.Logger, studentExamID uuid.UUID, studentID int) {
	cond, err := h.studentExamService.Start(ctx, studentExamID, studentID)
	if err != nil {
		h.writeServiceError(s, wsLog, err)
		return
	}

	se := cond.StudentExam
	_ = s.write(ws.StartedResponse{
		Event:           ws.EventStarted,
		StudentExamID:   se.ID.String(),
		ExerciseIDs:     se.ExerciseIDs,
		QuizQuestionIDs: se.QuizQuestionIDs,
		WorkingTime:     workingtime.EffectiveWorkingTimeSeconds(cond.Exam, se),
		EndDate:         cond.EndDate.Unix(),
	})
}

func (h *WSHandler) handleSubmit(ctx context.Context, s *stream, wsLog zerolog.Logger, studentExamID uuid.UUID, studentID int) {
	se, err := h.studentExamService.Submit(ctx, studentExamID, studentID)
	if err != nil {
		h.writeServiceError(s, wsLog, err)
		return
	}

	_ = s.write(ws.SubmittedResponse{
		Event:          ws.EventSubmitted,
		SubmissionDate: se.SubmissionDate.Unix(),
	})
}

func (h *WSHandler) writeServiceError(s *stream, wsLog zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Conduction action failed")
	}
	_ = s.fail(string(code))
}

// forwardWorkingTime relays working-time announcements that concern this student exam.
func (h *WSHandler) forwardWorkingTime(ctx context.Context, s *stream, wsLog zerolog.Logger, examID, studentExamID uuid.UUID, studentID int) {
	pubsub := h.rdb.Subscribe(ctx,
		config.CacheKey.WorkingTimeChannel(examID.String()),
		config.CacheKey.StudentExamWorkingTimeChannel(studentExamID.String()),
	)
	defer pubsub.Close()

	examChannel := config.CacheKey.WorkingTimeChannel(examID.String())
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}

			change, ok := changeFor(msg, examChannel, studentExamID)
			if !ok {
				continue
			}

			// reload for the deadline the change produced
			cond, err := h.studentExamService.Load(ctx, studentExamID, studentID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					wsLog.Warn().Err(err).Msg("Failed to reload student exam after working-time change")
				}
				continue
			}
			if err := s.write(ws.WorkingTimeResponse{
				Event:   ws.EventWorkingTime,
				Change:  change,
				EndDate: cond.EndDate.Unix(),
			}); err != nil {
				wsLog.Debug().Err(err).Msg("Failed to forward working-time change")
				return
			}
			wsLog.Info().
				Int("old_working_time", change.OldWorkingTime).
				Int("new_working_time", change.NewWorkingTime).
				Dur("remaining", time.Until(cond.EndDate)).
				Msg("Working-time change forwarded")
		}
	}
}

// changeFor extracts this student exam's change from either channel's payload.
func changeFor(msg *redis.Message, examChannel string, studentExamID uuid.UUID) (workingtime.Change, bool) {
	if msg.Channel != examChannel {
		var change workingtime.Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			return change, false
		}
		return change, change.StudentExamID == studentExamID
	}

	var all service.WorkingTimeMessage
	if err := json.Unmarshal([]byte(msg.Payload), &all); err != nil {
		return workingtime.Change{}, false
	}
	for _, change := range all.Changes {
		if change.StudentExamID == studentExamID {
			return change, true
		}
	}
	return workingtime.Change{}, false
}

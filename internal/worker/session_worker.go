package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

type sessionWriter interface {
	BulkInsert(ctx context.Context, sessions []model.ExamSession) (int64, error)
	Insert(ctx context.Context, s *model.ExamSession) error
}

// SessionWorker consumes persist_exam_sessions_queue and writes proctoring sessions in batches.
type SessionWorker struct {
	repo  sessionWriter
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

// NewSessionWorker creates a new SessionWorker.
func NewSessionWorker(repo sessionWriter, rdb *redis.Client, log zerolog.Logger) *SessionWorker {
	return &SessionWorker{
		repo:  repo,
		rdb:   rdb,
		queue: config.WorkerKey.PersistExamSessionsQueue,
		log:   log.With().Str("component", "session_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *SessionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SessionWorker started")

	buffer := make([]model.ExamSession, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var s model.ExamSession
		if err := json.Unmarshal([]byte(result[1]), &s); err != nil {
			// malformed payloads can never succeed
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed session")
			continue
		}
		buffer = append(buffer, s)
	}
}

// flushSafe attempts a bulk copy, then row-by-row inserts, then requeues what still failed.
// Rows rejected by an integrity constraint are dropped.
func (w *SessionWorker) flushSafe(ctx context.Context, batch []model.ExamSession) {
	n, err := w.repo.BulkInsert(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("count", n).Msg("Sessions persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ExamSession
	for i := range batch {
		if err := w.repo.Insert(ctx, &batch[i]); err != nil {
			if integrityViolation(err) {
				w.log.Error().Err(err).
					Str("session_id", batch[i].ID.String()).
					Str("student_exam_id", batch[i].StudentExamID.String()).
					Msg("Session violates a constraint, discarding")
				continue
			}
			w.log.Error().Err(err).
				Str("student_exam_id", batch[i].StudentExamID.String()).
				Msg("Insert failed, requeueing")
			failed = append(failed, batch[i])
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// integrityViolation reports SQLSTATE class 23 errors, which a retry cannot fix.
func integrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

func (w *SessionWorker) requeue(ctx context.Context, items []model.ExamSession) {
	pipe := w.rdb.Pipeline()
	for i := range items {
		data, _ := json.Marshal(&items[i])
		pipe.RPush(ctx, w.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue sessions. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed sessions")
	// back off while the database recovers
	time.Sleep(2 * time.Second)
}

func (w *SessionWorker) shutdown(buffer []model.ExamSession) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

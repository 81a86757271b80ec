package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

type participationDeleter interface {
	DeleteByStudentAndExercises(ctx context.Context, studentID int, exerciseIDs []int64) (int64, error)
}

// ParticipationCleanupWorker consumes delete_participations_queue and removes participations
// in exercises a regeneration took away from a student.
type ParticipationCleanupWorker struct {
	repo  participationDeleter
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

// NewParticipationCleanupWorker creates a new ParticipationCleanupWorker.
func NewParticipationCleanupWorker(repo participationDeleter, rdb *redis.Client, log zerolog.Logger) *ParticipationCleanupWorker {
	return &ParticipationCleanupWorker{
		repo:  repo,
		rdb:   rdb,
		queue: config.WorkerKey.DeleteParticipationsQueue,
		log:   log.With().Str("component", "participation_cleanup_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ParticipationCleanupWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ParticipationCleanupWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	c, ok := w.decode(result[1])
	if !ok {
		return
	}
	if err := w.cleanup(ctx, c); err != nil {
		w.log.Error().Err(err).Int("student_id", c.StudentID).Msg("Cleanup failed, retrying in 5s")
		w.rdb.RPush(ctx, w.queue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ParticipationCleanupWorker) decode(raw string) (model.ParticipationCleanup, bool) {
	var c model.ParticipationCleanup
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed cleanup")
		return c, false
	}
	return c, true
}

func (w *ParticipationCleanupWorker) cleanup(ctx context.Context, c model.ParticipationCleanup) error {
	n, err := w.repo.DeleteByStudentAndExercises(ctx, c.StudentID, c.ExerciseIDs)
	if err != nil {
		return err
	}
	w.log.Info().
		Int("student_id", c.StudentID).
		Int64("deleted", n).
		Msg("Stale participations deleted")
	return nil
}

// drain processes the remaining items before shutdown.
func (w *ParticipationCleanupWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}
		c, ok := w.decode(raw)
		if !ok {
			continue
		}
		if err := w.cleanup(ctx, c); err != nil {
			w.log.Error().Err(err).Msg("Drain cleanup error")
			w.rdb.RPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

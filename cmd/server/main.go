package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/examgen"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, "exstem-engine", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, "exstem-engine", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	studentExamRepo := repository.NewStudentExamRepository(pool)
	participationRepo := repository.NewParticipationRepository(pool)
	scaleRepo := repository.NewGradingScaleRepository(pool)
	plagiarismRepo := repository.NewPlagiarismCaseRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)

	// ─── Redis Adapters ────────────────────────────────────────────────
	locker := service.NewRedisLocker(rdb)
	publisher := service.NewRedisPublisher(rdb)
	queue := service.NewRedisQueue(rdb)
	cache := service.NewRedisCache(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	genOpts := []examgen.Option{examgen.WithWorkers(cfg.GenerationWorkers)}
	if cfg.GenerationSeed != nil {
		genOpts = append(genOpts, examgen.WithSeed(*cfg.GenerationSeed))
		log.Warn().Uint64("seed", *cfg.GenerationSeed).Msg("Student exam generation uses a fixed seed")
	}
	generator := examgen.NewGenerator(genOpts...)

	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, studentExamRepo, publisher, log)
	studentExamService := service.NewStudentExamService(
		examRepo, studentExamRepo, participationRepo, generator, locker, queue, cfg.GenerationLockTTL, log,
	)
	gradeService := service.NewGradeService(
		examRepo, studentExamRepo, participationRepo, scaleRepo, plagiarismRepo, cache, cfg.ScoreAccuracy, log,
	)
	scaleService := service.NewGradingScaleService(scaleRepo, log)
	proctoringService := service.NewProctoringService(examRepo, sessionRepo, queue, publisher, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:          handler.NewExamHandler(examService, studentExamService, log),
		Grading:       handler.NewGradingHandler(gradeService, scaleService, log),
		Monitor:       handler.NewMonitorHandler(rdb, proctoringService, log),
		StudentPortal: handler.NewStudentPortalHandler(studentExamService, proctoringService, log),
		WS:            handler.NewWSHandler(rdb, studentExamService, proctoringService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sessionWorker := worker.NewSessionWorker(sessionRepo, rdb, log)
	cleanupWorker := worker.NewParticipationCleanupWorker(participationRepo, rdb, log)

	workers.Go(func() { sessionWorker.Start(workerCtx) })
	workers.Go(func() { cleanupWorker.Start(workerCtx) })

	// ─── Rate Limiting ─────────────────────────────────────────────────
	var studentLimiter *middleware.RateLimiter
	stopLimiter := make(chan struct{})
	if cfg.StudentRateLimit > 0 {
		studentLimiter = middleware.NewRateLimiter(cfg.StudentRateLimit, time.Minute)
		go studentLimiter.Run(stopLimiter)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, studentLimiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(stopLimiter)

	// 2. Stop background workers and wait for their buffers and queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

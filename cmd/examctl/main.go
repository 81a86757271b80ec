// Command examctl runs engine operations from the shell: migrations, student exam
// generation, score computation, session analysis and grading scale imports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Operate the exam conduction engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")

	root.AddCommand(
		migrateCmd(),
		generateCmd(),
		scoresCmd(),
		sessionsCmd(),
		scaleCmd(),
	)
	return root
}

// app holds the connections a command needs. Commands open only what they use.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func newApp(cmd *cobra.Command) *app {
	cfg := config.Load()
	level := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	// stdout carries command output, so logs go to stderr
	return &app{cfg: cfg, log: logger.New(os.Stderr, level, cfg.LogFormat)}
}

func (a *app) connect(ctx context.Context, withRedis bool) error {
	pool, err := database.NewPostgresPool(ctx, a.cfg, "examctl", a.log)
	if err != nil {
		return err
	}
	a.pool = pool

	if withRedis {
		rdb, err := database.NewRedisClient(ctx, a.cfg, "examctl", a.log)
		if err != nil {
			pool.Close()
			return err
		}
		a.rdb = rdb
	}
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

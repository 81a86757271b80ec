package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stemsi/exstem-engine/internal/examgen"
	"github.com/stemsi/exstem-engine/internal/proctoring"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

// ─── generate ───────────────────────────────────────────────────────────────

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <exam-id>",
		Short: "Generate student exams for registered students",
		Long: "Without --all only students without a student exam get one.\n" +
			"With --all every student exam is redrawn; this is rejected once the exam started.",
		Args: cobra.ExactArgs(1),
		RunE: runGenerate,
	}
	f := cmd.Flags()
	f.Bool("all", false, "Redraw every student exam")
	f.Uint64("seed", 0, "Fixed random seed (0 uses GENERATION_SEED or a random seed)")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	examID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid exam id %q: %w", args[0], err)
	}
	all, _ := cmd.Flags().GetBool("all")
	seed, _ := cmd.Flags().GetUint64("seed")

	a := newApp(cmd)
	ctx := cmd.Context()
	if err := a.connect(ctx, true); err != nil {
		return err
	}
	defer a.close()

	opts := []examgen.Option{examgen.WithWorkers(a.cfg.GenerationWorkers)}
	switch {
	case seed != 0:
		opts = append(opts, examgen.WithSeed(seed))
	case a.cfg.GenerationSeed != nil:
		opts = append(opts, examgen.WithSeed(*a.cfg.GenerationSeed))
	}

	svc := service.NewStudentExamService(
		repository.NewExamRepository(a.pool),
		repository.NewStudentExamRepository(a.pool),
		repository.NewParticipationRepository(a.pool),
		examgen.NewGenerator(opts...),
		service.NewRedisLocker(a.rdb),
		service.NewRedisQueue(a.rdb),
		a.cfg.GenerationLockTTL,
		a.log,
	)

	var result *service.GenerationResult
	if all {
		result, err = svc.GenerateAll(ctx, examID)
	} else {
		result, err = svc.GenerateMissing(ctx, examID)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// ─── scores ─────────────────────────────────────────────────────────────────

func scoresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores <exam-id>",
		Short: "Compute exam scores and statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runScores,
	}
	f := cmd.Flags()
	f.Int("correction-round", -1, "Correction round to grade (-1 uses the latest result)")
	f.Int("accuracy", -1, "Decimals to round to (-1 uses DEFAULT_SCORE_ACCURACY)")
	return cmd
}

func runScores(cmd *cobra.Command, args []string) error {
	examID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid exam id %q: %w", args[0], err)
	}
	round, _ := cmd.Flags().GetInt("correction-round")
	accuracy, _ := cmd.Flags().GetInt("accuracy")

	a := newApp(cmd)
	ctx := cmd.Context()
	if err := a.connect(ctx, false); err != nil {
		return err
	}
	defer a.close()

	if accuracy < 0 {
		accuracy = a.cfg.ScoreAccuracy
	}
	q := service.ScoresQuery{Refresh: true}
	if round >= 0 {
		q.CorrectionRound = &round
	}

	svc := service.NewGradeService(
		repository.NewExamRepository(a.pool),
		repository.NewStudentExamRepository(a.pool),
		repository.NewParticipationRepository(a.pool),
		repository.NewGradingScaleRepository(a.pool),
		repository.NewPlagiarismCaseRepository(a.pool),
		nil,
		accuracy,
		a.log,
	)
	scores, err := svc.ExamScores(ctx, examID, q)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), scores)
}

// ─── sessions ───────────────────────────────────────────────────────────────

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions <exam-id>",
		Short: "Find suspicious exam sessions",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessions,
	}
	f := cmd.Flags()
	f.Bool("same-ip", false, "Different student exams sharing an IP address")
	f.Bool("same-fingerprint", false, "Different student exams sharing a browser fingerprint")
	f.Bool("changing-ip", false, "One student exam with several IP addresses")
	f.Bool("changing-fingerprint", false, "One student exam with several browser fingerprints")
	f.String("subnet", "", "Flag addresses outside of this CIDR prefix")
	return cmd
}

func runSessions(cmd *cobra.Command, args []string) error {
	examID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid exam id %q: %w", args[0], err)
	}
	f := cmd.Flags()
	var opts proctoring.Options
	opts.DifferentStudentExamsSameIPAddress, _ = f.GetBool("same-ip")
	opts.DifferentStudentExamsSameBrowserFingerprint, _ = f.GetBool("same-fingerprint")
	opts.SameStudentExamDifferentIPAddresses, _ = f.GetBool("changing-ip")
	opts.SameStudentExamDifferentBrowserFingerprints, _ = f.GetBool("changing-fingerprint")
	opts.IPSubnet, _ = f.GetString("subnet")
	opts.IPOutsideOfRange = f.Changed("subnet")

	a := newApp(cmd)
	ctx := cmd.Context()
	if err := a.connect(ctx, false); err != nil {
		return err
	}
	defer a.close()

	svc := service.NewProctoringService(
		repository.NewExamRepository(a.pool),
		repository.NewExamSessionRepository(a.pool),
		nil, nil,
		a.log,
	)
	groups, err := svc.SuspiciousSessions(ctx, examID, opts)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), groups)
}

// ─── scale ──────────────────────────────────────────────────────────────────

func scaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Manage grading scales",
	}
	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or replace a grading scale from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE:  runScaleImport,
	}
	cmd.AddCommand(importCmd)
	return cmd
}

func runScaleImport(cmd *cobra.Command, args []string) error {
	in, err := readScaleImport(args[0])
	if err != nil {
		return err
	}

	a := newApp(cmd)
	ctx := cmd.Context()
	if err := a.connect(ctx, false); err != nil {
		return err
	}
	defer a.close()

	svc := service.NewGradingScaleService(repository.NewGradingScaleRepository(a.pool), a.log)
	scale, err := svc.Import(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), scale)
}

func readScaleImport(path string) (*service.ScaleImport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var in service.ScaleImport
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &in, nil
}

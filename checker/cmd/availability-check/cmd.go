package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/EFForg/availability-backend/checker"
	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/models"
	"github.com/EFForg/availability-backend/stats"
	"github.com/EFForg/availability-backend/util"
)

type options struct {
	configPath  string
	session     string
	concurrency int
	mergingMode string
	checkerType string
	noProgress  bool
	noColor     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "availability-check",
		Short:         "Tests domains, IP addresses and URLs for availability",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVar(&opts.checkerType, "checker-type", "", "availability or syntax (overrides testing.checker_type)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	run := &cobra.Command{
		Use:   "run [file]",
		Short: "Test every subject of a list, one per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, args)
		},
	}
	run.Flags().StringVar(&opts.session, "session", "", "resume or start the given session instead of the derived one")
	run.Flags().IntVarP(&opts.concurrency, "concurrency", "w", 0, "number of workers (overrides testing.concurrency)")
	run.Flags().StringVar(&opts.mergingMode, "merging-mode", "", "live or ends (overrides testing.merging_mode)")
	run.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")

	check := &cobra.Command{
		Use:   "check <subject>...",
		Short: "Test single subjects without touching the continuation store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkSubjects(cmd, opts, args)
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup [file]",
		Short: "Forget the subjects a session already tested",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cleanupSession(cmd, opts, args)
		},
	}
	cleanup.Flags().StringVar(&opts.session, "session", "", "session to clean up instead of the derived one")

	root.AddCommand(run, check, cleanup)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func setup(cmd *cobra.Command, opts *options) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("checker-type") {
		cfg.Testing.CheckerType = opts.checkerType
	}
	if flags.Changed("concurrency") {
		cfg.Testing.Concurrency = opts.concurrency
	}
	if flags.Changed("merging-mode") {
		cfg.Testing.MergingMode = opts.mergingMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func dependencies(cfg *config.Config, cache db.CacheStore) (checker.Dependencies, error) {
	deps := checker.Dependencies{
		Cache:        cache,
		WhoisLimiter: checker.DefaultWhoisLimiter(),
	}
	if cfg.ExtraRules.File != "" {
		rules, err := checker.LoadRules(cfg.ExtraRules.File)
		if err != nil {
			return deps, err
		}
		deps.Rules = rules
	}
	return deps, nil
}

// readInput returns the subjects of the named file, or of stdin when no
// file (or "-") is given, with the name of the source.
func readInput(cmd *cobra.Command, args []string) (string, []string, error) {
	if len(args) == 0 || args[0] == "-" {
		subjects, err := util.ReadSubjects(cmd.InOrStdin())
		return "stdin", subjects, err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	subjects, err := util.ReadSubjects(f)
	return args[0], subjects, err
}

func sessionFor(opts *options, cfg *config.Config, source string) models.Session {
	if opts.session != "" {
		return models.Session{ID: opts.session, Source: source, CheckerType: cfg.Testing.CheckerType}
	}
	return models.NewSession(source, cfg.Testing.CheckerType)
}

func runList(cmd *cobra.Command, opts *options, args []string) error {
	cfg, log, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer log.Sync()
	source, subjects, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	database, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	deps, err := dependencies(cfg, database)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	session := sessionFor(opts, cfg, source)
	resuming := cfg.Testing.Autocontinue || opts.session != ""
	totals := checker.NewTotals(source)
	totals.Log = log
	pool := &checker.Pool{
		NewChecker: func() (*checker.Checker, error) {
			return checker.New(cfg, deps, log), nil
		},
		Session:     session,
		Concurrency: cfg.Testing.Concurrency,
		MergeMode:   cfg.Testing.MergingMode,
		Cooldown:    cfg.Testing.CooldownTime,
		Handler:     checker.MultiHandler{newPrinter(out), totals},
		Log:         log,
	}
	if resuming {
		pool.Store = database
		if tested, err := database.CountTested(ctx, session.ID); err == nil && tested > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Resuming session %s: %d subjects already tested\n", session.ID, tested)
		}
	}
	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = newProgressBar(cmd.ErrOrStderr(), len(subjects))
		pool.Progress = func() { bar.Add(1) }
	}

	start := time.Now()
	_, err = pool.Run(ctx, subjects)
	if bar != nil {
		bar.Finish()
	}
	fmt.Fprintf(out, "\n%s", totals)
	fmt.Fprintf(out, "skipped\t%d\n", pool.Skipped())
	fmt.Fprintf(out, "Execution time: %s\n", stats.ExecutionTime(start, time.Now()))
	if err != nil {
		if resuming {
			fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted; run again to resume session %s\n", session.ID)
		}
		return err
	}

	if cfg.Testing.Autocontinue {
		if err := database.Cleanup(context.WithoutCancel(ctx), session.ID); err != nil {
			return fmt.Errorf("clean up session %s: %w", session.ID, err)
		}
	}
	return nil
}

func checkSubjects(cmd *cobra.Command, opts *options, args []string) error {
	cfg, log, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer log.Sync()
	ctx := cmd.Context()
	database, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	deps, err := dependencies(cfg, database)
	if err != nil {
		return err
	}
	c := checker.New(cfg, deps, log)
	printer := newPrinter(cmd.OutOrStdout())
	for _, raw := range args {
		printer.HandleRecord(c.Resolve(ctx, raw))
	}
	return nil
}

func cleanupSession(cmd *cobra.Command, opts *options, args []string) error {
	cfg, log, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer log.Sync()
	source := "stdin"
	if len(args) > 0 && args[0] != "-" {
		source = args[0]
	}
	session := sessionFor(opts, cfg, source)

	ctx := cmd.Context()
	database, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	tested, err := database.CountTested(ctx, session.ID)
	if err != nil {
		return err
	}
	if err := database.Cleanup(ctx, session.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleaned up (%d subjects)\n", session.ID, tested)
	return nil
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(!color.NoColor),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Testing subjects..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

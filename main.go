package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/eml-to-csv/cmd"
	"github.com/dhcgn/eml-to-csv/config"
	"github.com/dhcgn/eml-to-csv/progress"
	"github.com/dhcgn/eml-to-csv/report"
	"github.com/dhcgn/eml-to-csv/runner"
	"github.com/dhcgn/eml-to-csv/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eml-to-csv",
		Short: "Download the CSV files linked from an email and combine them into one CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			run, err := report.NewRun(cfg.OutputRoot, cfg.Label, time.Now())
			if err != nil {
				return fmt.Errorf("create run directory: %w", err)
			}

			logger, cleanup, err := setupLogger(cfg, run)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting eml-to-csv", "email", cfg.EmailPath, "label", cfg.Label, "workers", cfg.Workers, "maxAttempts", cfg.MaxAttempts)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return execute(ctx, cfg, run, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewLinksCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg config.Config, run *report.Run, logger *slog.Logger) error {
	r, err := runner.New(ctx, cfg, run, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)
	progress.New(cfg.Progress, os.Stdout).Attach(r)

	out, err := r.Run()
	if err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		logger.Warn("stats subscriber failed", "err", err)
	}

	fmt.Fprintf(os.Stdout, "%s: %d rows from %d of %d files -> %s\n",
		out.Status, len(out.Table.Rows), len(out.Succeeded()), len(out.Downloads), run.CombinedPath)
	return nil
}

// setupLogger writes to stdout and the run log. With a progress bar the
// terminal is left to the bar and only the run log receives records.
func setupLogger(cfg config.Config, run *report.Run) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}

	file, err := run.OpenLog()
	if err != nil {
		return nil, func() error { return nil }, fmt.Errorf("open run log: %w", err)
	}

	var out io.Writer = io.MultiWriter(os.Stdout, file)
	if cfg.Progress {
		out = file
	}

	cleanup := func() error {
		if err := file.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: run log %s is incomplete: %v\n", run.LogPath, err)
		}
		return file.Close()
	}

	handler := slog.NewTextHandler(out, opts)
	return slog.New(handler), cleanup, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/extract"
	"github.com/dhcgn/mailbox-export/filter"
	"github.com/dhcgn/mailbox-export/gmail"
	"github.com/dhcgn/mailbox-export/imap"
	"github.com/dhcgn/mailbox-export/layout"
	"github.com/dhcgn/mailbox-export/mbox"
	"github.com/dhcgn/mailbox-export/progress"
	"github.com/dhcgn/mailbox-export/runner"
	"github.com/dhcgn/mailbox-export/sink"
	"github.com/dhcgn/mailbox-export/source"
	"github.com/dhcgn/mailbox-export/state"
	"github.com/dhcgn/mailbox-export/stats"
)

var rootCmd = &cobra.Command{
	Use:           "mailbox-export",
	Short:         "Export mail folders into a table of senders, subjects, bodies and attachments",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting mailbox-export", "source", cfg.Source, "folders", cfg.Folders, "exportDir", cfg.ExportDir, "format", cfg.Format)

		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	config.RegisterFlags(rootCmd)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	src, err := source.Open(ctx, sourceOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("closing source failed", "err", cerr)
		}
	}()

	folders, err := resolveFolders(ctx, cfg, src)
	if err != nil {
		return err
	}

	f, err := filter.New(filterOptions(cfg))
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	l, err := layout.Prepare(cfg.ExportDir)
	if err != nil {
		return err
	}
	if l.Root != cfg.ExportDir {
		logger.Warn("export directory exists, using sibling", "requested", cfg.ExportDir, "root", l.Root)
	}

	runID := uuid.NewString()
	out, err := sink.Open(cfg.Format, l.Root, runID)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s export: %w", cfg.Format, cerr)
		}
	}()

	r, err := runner.New(ctx, runner.Options{
		RunID:        runID,
		Folders:      folders,
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
	}, src, f, extract.New(state.NewIndex(), logger), l, out, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	stats.NewReporter(r, r.Logger())

	var metrics *stats.Metrics
	if cfg.MetricsFile != "" {
		metrics = stats.NewMetrics()
		metrics.Subscribe(r)
	}

	bar := progress.New(cfg.LogLevel, cfg.Progress)
	progress.NewReporter(r, bar, logger)

	err = r.Start()

	if metrics != nil {
		if merr := metrics.WriteToTextfile(cfg.MetricsFile); merr != nil {
			logger.Error("writing metrics failed", "path", cfg.MetricsFile, "err", merr)
		}
	}
	if err != nil {
		return err
	}

	logger.Info("export written", "root", l.Root, "format", cfg.Format)
	return nil
}

func sourceOptions(cfg config.Config) source.Options {
	return source.Options{
		Kind: cfg.Source,
		IMAP: imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		Mbox: mbox.Options{Paths: cfg.MboxPaths},
		Gmail: gmail.Options{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
			User:         cfg.GmailUser,
		},
	}
}

func filterOptions(cfg config.Config) filter.Options {
	return filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	}
}

var errNoFolders = errors.New("source has no folders")

// resolveFolders returns the configured folders, or every folder of the
// source when none are named.
func resolveFolders(ctx context.Context, cfg config.Config, src source.Source) ([]string, error) {
	if len(cfg.Folders) > 0 && !cfg.AllFolders {
		return cfg.Folders, nil
	}
	folders, err := src.Folders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	if len(folders) == 0 {
		return nil, errNoFolders
	}
	return folders, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
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
	cleanup := func() error { return nil }

	// the progress bar owns stdout at info level, so logs go to stderr
	var console io.Writer = os.Stdout
	if cfg.Progress && cfg.LogLevel == "info" {
		console = os.Stderr
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailbox-export-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(console, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(console, opts)
	return slog.New(handler), cleanup, nil
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cli builds the cobra commands of the sync tools.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/smc-tag-sync/internal/config"
	"github.com/hashicorp/smc-tag-sync/internal/logging"
	"github.com/hashicorp/smc-tag-sync/internal/report"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/smc"
	"github.com/hashicorp/smc-tag-sync/tagsync"
	"github.com/spf13/cobra"
)

// app holds the flags and state shared by every tool.
type app struct {
	debug      bool
	reportOnly bool
	noColor    bool
	output     string
	envFile    string
	prefix     string
	comment    string

	cfg     *config.Config
	logger  *slog.Logger
	printer *report.Printer
}

func (a *app) registerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&a.debug, "debug", false, "enable debug logging")
	f.BoolVar(&a.reportOnly, "report_only", false, "print the collected inventory and ip lists without contacting the SMC")
	f.BoolVar(&a.noColor, "no_color", false, "disable colored output")
	f.StringVarP(&a.output, "output", "o", string(report.FormatText), "report format: text or json")
	f.StringVar(&a.envFile, "env_file", "", "dotenv file to load (default .env in the working directory, when present)")
	f.StringVar(&a.prefix, "prefix", "", "prefix prepended to every ip list name")
	f.StringVar(&a.comment, "comment", "", "comment set on ip lists created in the SMC")
}

// setup loads the configuration and builds the logger and report printer.
func (a *app) setup(cmd *cobra.Command) error {
	a.logger = logging.New(cmd.ErrOrStderr(), logging.Options{Debug: a.debug, NoColor: a.noColor})

	format, err := report.ParseFormat(a.output)
	if err != nil {
		return err
	}
	a.printer = report.NewPrinter(cmd.OutOrStdout(), format, a.noColor)

	var opts []config.Option
	if a.envFile != "" {
		opts = append(opts, config.WithEnvFile(a.envFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Export(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// sync runs one pass of collector against the SMC.
func (a *app) sync(ctx context.Context, collector tagsync.Collector, grouper iplist.Grouper) error {
	grouper.Prefix = a.prefix
	s := &tagsync.Syncer{
		Collector:  collector,
		Grouper:    grouper,
		ReportOnly: a.reportOnly,
		Report:     a.printer,
		Logger:     a.logger,
	}
	if !a.reportOnly {
		s.Session = smcSession(a.cfg.SMC, a.comment, a.logger)
	}
	_, err := s.Run(ctx)
	return err
}

// runE wraps fn so that setup runs first and failures are logged once.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := a.setup(cmd)
		if err == nil {
			err = fn(cmd, args)
		}
		if err != nil && a.logger != nil {
			a.logger.Error("sync failed", "error", err)
			return &loggedError{err: err}
		}
		return err
	}
}

type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// smcSession returns a SessionFunc that logs in to the SMC described by cfg.
func smcSession(cfg config.SMCConfig, comment string, logger *slog.Logger) tagsync.SessionFunc {
	return func(ctx context.Context) (smc.IPListAPI, func(context.Context) error, error) {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		opts := []smc.Option{smc.WithLogger(logger)}
		if comment != "" {
			opts = append(opts, smc.WithComment(comment))
		}
		client, err := smc.NewClient(cfg.ClientConfig(), opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Login(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("logged in to smc", "address", cfg.Address, "api_version", client.Version())
		return client, client.Logout, nil
	}
}

func newCommand(use, short string, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.registerFlags(cmd)
	return cmd
}

// Execute runs cmd until it completes or the process is interrupted and
// exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cmd, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var logged *loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

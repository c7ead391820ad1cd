// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/bootstrap"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
)

// Build info, injected via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// app holds the process edges so commands can run against fakes in tests.
type app struct {
	out     io.Writer
	errOut  io.Writer
	logOut  io.Writer
	capture func() (config.Snapshot, error)
}

func defaultApp() *app {
	return &app{
		out:     os.Stdout,
		errOut:  os.Stderr,
		logOut:  os.Stdout,
		capture: config.CaptureProcess,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "apiboot",
		Short:         "API bootstrap server",
		Long:          `apiboot validates its environment, assembles the HTTP stack and serves until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the environment and print the redacted configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.checkConfig()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(a.out, "apiboot %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)
	return root
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := a.capture()
	if err != nil {
		return errors.Wrap(err, "Error starting the application")
	}
	return startAndServe(ctx, bootstrap.New(snap, bootstrap.WithLogWriter(a.logOut)))
}

type runner interface {
	Start(ctx context.Context) error
	Serve(ctx context.Context) error
}

// startAndServe labels only startup failures; errors after the listener is up
// are returned as they are.
func startAndServe(ctx context.Context, r runner) error {
	if err := r.Start(ctx); err != nil {
		return errors.Wrap(err, "Error starting the application")
	}
	return r.Serve(ctx)
}

func (a *app) checkConfig() error {
	snap, err := a.capture()
	if err != nil {
		return err
	}
	cfg, err := config.Load(snap)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			for _, v := range cfgErr.Violations {
				fmt.Fprintf(a.errOut, "%s: %s\n", v.Key, v.Message)
			}
		}
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.Redacted())
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twinverse/hostbridge/pkg/config"
	"github.com/twinverse/hostbridge/pkg/env"
	"github.com/twinverse/hostbridge/pkg/exec"
	"github.com/twinverse/hostbridge/pkg/logging"
	"github.com/twinverse/hostbridge/pkg/sandbox"
	"github.com/twinverse/hostbridge/pkg/version"
)

var cfgFile string

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	detector *sandbox.Detector
	runner   exec.Runner
}

// exitError carries a child's exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// childExit keeps a Check-mode exit code instead of collapsing it to 1.
func childExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return &exitError{code: exitErr.Code}
	}
	return err
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hostbridge",
		Short:         "Run commands on the host and manage Plasma panels from a sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/hostbridge/config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(envCmd())
	root.AddCommand(panelsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

func loadApp(stderr io.Writer) (*app, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	detector := sandbox.NewDetector(cfg.Exec.Marker)
	return &app{
		cfg:      cfg,
		logger:   logger,
		detector: detector,
		runner:   exec.NewRunner(detector, cfg.RunnerConfig()),
	}, nil
}

func runCmd() *cobra.Command {
	var async, capture, check bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run -- COMMAND [ARGS...]",
		Short: "Run a command on the host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := exec.Options{Capture: capture, Check: check, Timeout: timeout}
			var res *exec.Result
			if async {
				res, err = runAsync(ctx, cmd, a, args, opts)
			} else {
				res, err = a.runner.Run(ctx, args, opts)
			}
			if res != nil && capture {
				fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
				fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			}
			if err != nil {
				return childExit(err)
			}
			a.logger.Debug("command finished", "argv", res.Argv, "status", res.Status, "code", res.Code, "duration", res.Duration)
			if res.Code > 0 {
				return &exitError{code: res.Code}
			}
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "start without blocking the dispatcher; stop the child on interrupt")
	cmd.Flags().BoolVar(&capture, "capture", false, "capture output and print it after the command exits")
	cmd.Flags().BoolVar(&check, "check", false, "treat a non-zero exit as an error")
	cmd.Flags().DurationVar(&timeout, "timeout", -1, "bound the command's run time (negative = unbounded)")
	return cmd
}

func runAsync(ctx context.Context, cmd *cobra.Command, a *app, args []string, opts exec.Options) (*exec.Result, error) {
	h, err := a.runner.Start(context.WithoutCancel(ctx), args, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info("started host command", "argv", h.Argv())

	select {
	case <-h.Done():
	case <-ctx.Done():
		a.logger.Info("stopping host command", "pid", h.PID())
		if err := h.Stop(); err != nil {
			a.logger.Warn("stop host command failed", "err", err)
		}
	}
	return h.Wait(context.Background())
}

func envCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Host environment helpers"}
	cmd.AddCommand(envExportCmd())
	return cmd
}

func envExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export [KEY=VALUE...]",
		Short: "Export variables in the host shell (no-op outside a sandbox)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			vars := map[string]string{}
			if file != "" {
				fromFile, err := env.ParseFile(file)
				if err != nil {
					return err
				}
				for k, v := range fromFile {
					vars[k] = v
				}
			}
			pairs, err := env.ParsePairs(args)
			if err != nil {
				return err
			}
			for k, v := range pairs {
				vars[k] = v
			}

			if !a.runner.Sandboxed() {
				fmt.Fprintln(cmd.OutOrStdout(), "not sandboxed; nothing to export")
				return nil
			}
			exec.ExportEnv(cmd.Context(), a.runner, vars, a.logger)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read KEY=VALUE lines from a dotenv file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

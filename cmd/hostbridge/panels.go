package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/twinverse/hostbridge/pkg/exec"
	"github.com/twinverse/hostbridge/pkg/plasma"
	"github.com/twinverse/hostbridge/pkg/system"
)

func (a *app) panelManager(ctx context.Context) *plasma.Manager {
	opts := append(a.cfg.PlasmaOptions(),
		plasma.WithLogger(a.logger),
		plasma.WithRunner(a.runner),
	)
	return plasma.New(ctx, opts...)
}

func panelsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "panels", Short: "Inspect and change Plasma panel visibility"}
	cmd.AddCommand(panelsCountCmd())
	cmd.AddCommand(panelsShowCmd())
	cmd.AddCommand(panelsDodgeCmd())
	cmd.AddCommand(panelsWrapCmd())
	return cmd
}

func panelsCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of panels",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m := a.panelManager(cmd.Context())
			defer m.Close()
			fmt.Fprintln(cmd.OutOrStdout(), m.PanelCount(cmd.Context()))
			return nil
		},
	}
}

func panelsShowCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current hiding mode of every panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m := a.panelManager(cmd.Context())
			defer m.Close()
			outcome := m.Save(cmd.Context())
			snap, ok := m.Snapshot()
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no panel state available (%s)\n", outcome)
				return nil
			}

			if output == "yaml" {
				data, err := yaml.Marshal(snap)
				if err != nil {
					return fmt.Errorf("encode snapshot: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			for _, i := range snap.Indices() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, snap.Modes[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

func panelsDodgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dodge",
		Short: "Set every panel to the configured dodge mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m := a.panelManager(cmd.Context())
			defer m.Close()
			outcome := m.Dodge(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
}

func panelsWrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap -- COMMAND [ARGS...]",
		Short: "Dodge panels while COMMAND runs on the host, then restore them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := a.panelManager(ctx)
			defer m.Close()
			var res *exec.Result
			err = m.Wrap(ctx, func(ctx context.Context) error {
				var runErr error
				res, runErr = a.runner.Run(ctx, args, exec.Options{Timeout: -1})
				return runErr
			})
			if err != nil {
				return err
			}
			if res.Code > 0 {
				return &exitError{code: res.Code}
			}
			return res.Err
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Show host, sandbox and script client status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			profile := system.Detect(ctx, a.runner, a.detector)
			m := a.panelManager(ctx)
			defer m.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OS: %s\nDistro: %s %s\nKernel: %s\nArch: %s\nDesktop: %s (%s)\n",
				profile.OS, profile.Distro, profile.Version, profile.Kernel, profile.Arch, profile.Desktop, profile.SessionType)
			fmt.Fprintf(out, "Sandboxed: %t (marker %s)\n", profile.Sandboxed, a.detector.Marker())
			if profile.Sandboxed {
				broker := profile.Broker
				if broker == "" {
					broker = "missing"
				}
				fmt.Fprintf(out, "Escape broker: %s\n", broker)
			}
			client := m.ClientName()
			if client == "" {
				client = "unavailable"
			}
			fmt.Fprintf(out, "Plasma desktop: %t\nScript client: %s\n", m.DesktopMatches(), client)
			if missing := system.MissingBins(ctx, a.runner, a.cfg.Plasma.Candidates); len(missing) > 0 {
				fmt.Fprintf(out, "Missing on host: %v\n", missing)
			}
			return nil
		},
	}
}

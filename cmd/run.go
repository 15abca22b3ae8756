// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/browser"
	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/observability"
	"github.com/xkilldash9x/steady/internal/script"
)

const shutdownTimeout = 15 * time.Second

type runFlags struct {
	headless       bool
	ignoreTLS      bool
	idle           time.Duration
	idleLoad       time.Duration
	stepsPerSecond float64
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a YAML or JSON step file in a fresh browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, flags, cfg)

			s, err := script.Load(args[0])
			if err != nil {
				return err
			}
			return runScript(cmd.Context(), cfg, s, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&flags.headless, "headless", true, "run the browser without a window")
	cmd.Flags().BoolVar(&flags.ignoreTLS, "ignore-tls-errors", false, "accept invalid TLS certificates")
	cmd.Flags().DurationVar(&flags.idle, "idle", 0, "quiet period that counts as settled (overrides policy.wait_idle_time)")
	cmd.Flags().DurationVar(&flags.idleLoad, "idle-load", 0, "quiet period after a DOM load (overrides policy.wait_idle_load_time)")
	cmd.Flags().Float64Var(&flags.stepsPerSecond, "steps-per-second", 0, "pace step starts; 0 runs them back to back")
	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, flags runFlags, cfg config.Interface) {
	changed := cmd.Flags().Changed
	if changed("headless") {
		cfg.SetBrowserHeadless(flags.headless)
	}
	if changed("ignore-tls-errors") {
		cfg.SetBrowserIgnoreTLSErrors(flags.ignoreTLS)
	}
	if changed("idle") {
		cfg.SetPolicyWaitIdleTime(flags.idle)
	}
	if changed("idle-load") {
		cfg.SetPolicyWaitIdleLoadTime(flags.idleLoad)
	}
	if changed("steps-per-second") {
		cfg.SetScriptStepsPerSecond(flags.stepsPerSecond)
	}
}

func runScript(ctx context.Context, cfg config.Interface, s *script.Script, out io.Writer) (err error) {
	logger := observability.GetLogger()

	mgr, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// ctx may already be cancelled by a signal; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := mgr.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("browser shutdown: %w", serr)
		}
	}()

	page, err := mgr.NewPage(ctx)
	if err != nil {
		return err
	}

	runner := script.NewRunner(logger, cfg.Script().StepsPerSecond)
	report, runErr := runner.Run(ctx, script.NavigatorTarget(page.Navigator()), s)
	printReport(out, report)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Script aborted.", zap.String("script", s.Name))
			return fmt.Errorf("script aborted by user signal")
		}
		return runErr
	}
	return nil
}

// printReport writes one line per executed step.
func printReport(w io.Writer, report *script.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "Script %q: %d step(s) executed\n", report.Script, len(report.Steps))
	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-6s %-14s %8s", step.Path, step.Kind, step.Duration.Round(time.Millisecond))
		if step.Label != step.Kind {
			line += fmt.Sprintf("  %s", step.Label)
		}
		if step.Settled != nil && !*step.Settled {
			line += "  (activity did not settle)"
		}
		if step.Value != nil {
			if encoded, err := jsoniter.MarshalToString(step.Value); err == nil {
				line += "  => " + encoded
			}
		}
		fmt.Fprintln(w, line)
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script>",
		Short: "Parse and check a step file without starting a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.Load(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Script %q is valid: %d step(s)\n", s.Name, len(s.Steps))
			return nil
		},
	}
}

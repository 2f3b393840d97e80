// Package cli implements the driftguard command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tenant_schema_guard/internal/app"
	"tenant_schema_guard/internal/config"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/logging"
)

type globalFlags struct {
	json    bool
	noColor bool
	actor   string
}

var flags globalFlags

// Root returns the driftguard command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "driftguard",
		Short: "Detect and repair tenant schema drift",
		Long: `driftguard compares every tenant database with the canonical reference
schema and applies the differences in controlled tiers.

SAFE changes (new tables, columns, indexes, RLS enablement) can be applied
directly. CAUTION and DESTRUCTIVE changes need an explicit confirmation
phrase and are applied by an admin.

Configuration comes from DRIFTGUARD_* variables or the YAML file named by
DRIFTGUARD_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().StringVar(&flags.actor, "actor", defaultActor(), "Name recorded in schema history")

	root.AddCommand(planCmd())
	root.AddCommand(showCmd())
	root.AddCommand(preflightCmd())
	root.AddCommand(applySafeCmd())
	root.AddCommand(applyDestructiveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(initConfigCmd())
	root.AddCommand(migrateCmd())
	return root
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

// withApp loads configuration, opens the control plane and runs fn.
// Logs go to stderr so stdout stays parseable.
func withApp(cmd *cobra.Command, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cliLogger(cmd.ErrOrStderr(), cfg)
	if opts.TraceWriter == nil {
		opts.TraceWriter = cmd.ErrOrStderr()
	}

	ctx := engine.WithActor(cmd.Context(), flags.actor)
	a, err := app.Open(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

func cliLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	return logging.New(w, level, cfg.LogFormat)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tenant_schema_guard/internal/app"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/executor"
	"tenant_schema_guard/internal/preflight"
)

const planConcurrency = 4

func planCmd() *cobra.Command {
	var (
		tenantID string
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Diff tenants against the reference schema",
		Long: `Compute and store a migration plan for one tenant, or for every active
tenant with --all.

Examples:
  driftguard plan --tenant 5f0c2d2e-8a54-4d8a-9a43-0d1f3c1b7e11
  driftguard plan --all --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (tenantID != "") {
				return errors.New("pass exactly one of --tenant or --all")
			}
			return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				if all {
					rows, err := planAll(ctx, a)
					if err != nil {
						return err
					}
					if flags.json {
						return writeJSON(cmd.OutOrStdout(), rows)
					}
					renderSummaries(cmd.OutOrStdout(), rows)
					return nil
				}
				p, err := a.Engine.CreatePlan(ctx, tenantID)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), p)
				}
				renderPlan(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().BoolVar(&all, "all", false, "Plan every active tenant")
	return cmd
}

// planAll plans each active tenant with bounded concurrency. A failing
// tenant is reported in its row and does not stop the others.
func planAll(ctx context.Context, a *app.App) ([]planSummary, error) {
	tenants, err := a.Store.ListTenants(ctx, true)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		rows = make([]planSummary, 0, len(tenants))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(planConcurrency)
	for _, t := range tenants {
		t := t
		g.Go(func() error {
			row := planSummary{TenantID: t.ID.String(), Tenant: t.Name}
			p, err := a.Engine.CreatePlan(gctx, t.ID.String())
			if err != nil {
				row.Error = err.Error()
			} else {
				row.PlanID = p.ID
				row.Bootstrap = p.BootstrapRequired()
				row.Counts = p.Counts()
			}
			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tenant < rows[j].Tenant })
	return rows, nil
}

func showCmd() *cobra.Command {
	var tenantID, planID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a stored plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetPlan(ctx, tenantID, planID)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), p)
				}
				renderPlan(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	planFlags(cmd, &tenantID, &planID)
	return cmd
}

func preflightCmd() *cobra.Command {
	var (
		tenantID, planID string
		rawQueries       []string
	)
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Run read-only verification queries for a plan",
		Long: `Run SELECT queries against the tenant before applying non-SAFE changes.
Without --query the curated queries carried by the plan are run.

Examples:
  driftguard preflight --tenant T --plan P
  driftguard preflight --tenant T --plan P --query "C=SELECT count(*) FROM students WHERE legacy_flag"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := parseQueries(rawQueries)
			if err != nil {
				return err
			}
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				results, err := a.Engine.RunPreflight(ctx, tenantID, planID, queries)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				renderPreflight(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
	planFlags(cmd, &tenantID, &planID)
	cmd.Flags().StringArrayVar(&rawQueries, "query", nil, "change_id=SELECT ... (repeatable)")
	return cmd
}

// parseQueries splits change_id=query pairs on the first '='.
func parseQueries(raw []string) ([]preflight.Query, error) {
	out := make([]preflight.Query, 0, len(raw))
	for _, r := range raw {
		id, q, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("invalid --query %q: want change_id=query", r)
		}
		out = append(out, preflight.Query{ChangeID: strings.TrimSpace(id), SQL: strings.TrimSpace(q)})
	}
	return out, nil
}

func applySafeCmd() *cobra.Command {
	var (
		tenantID, planID string
		changeIDs        []string
	)
	cmd := &cobra.Command{
		Use:   "apply-safe",
		Short: "Apply the SAFE changes of a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ApplySafe(ctx, tenantID, planID, changeIDs)
				if err != nil {
					return err
				}
				return reportResult(cmd, res)
			})
		},
	}
	planFlags(cmd, &tenantID, &planID)
	cmd.Flags().StringSliceVar(&changeIDs, "change", nil, "Restrict to these change ids")
	return cmd
}

func applyDestructiveCmd() *cobra.Command {
	var (
		tenantID, planID string
		confirm          string
	)
	cmd := &cobra.Command{
		Use:   "apply-destructive",
		Short: "Apply the CAUTION and DESTRUCTIVE changes of a plan",
		Long: fmt.Sprintf(`Apply every CAUTION and DESTRUCTIVE change of a plan in order.

The phrase %q must be passed with --confirm or typed at the prompt.
Run preflight first and review the manual steps of the plan.`, executor.ConfirmationPhrase),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := confirm
			if !cmd.Flags().Changed("confirm") {
				var err error
				if phrase, err = promptPhrase(tenantID, planID); err != nil {
					return err
				}
			}
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ApplyDestructive(ctx, tenantID, planID, true, phrase)
				if err != nil && !errors.Is(err, engine.ErrConfirmationRequired) {
					return err
				}
				return reportResult(cmd, res)
			})
		},
	}
	planFlags(cmd, &tenantID, &planID)
	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirmation phrase")
	return cmd
}

// promptPhrase asks for the confirmation phrase interactively.
var promptPhrase = func(tenantID, planID string) (string, error) {
	var phrase string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Destructive apply").
				Description(fmt.Sprintf("Tenant %s\nPlan %s\n\nCAUTION and DESTRUCTIVE changes can lose data.", tenantID, planID)),
			huh.NewInput().
				Title("Type the confirmation phrase").
				Placeholder(executor.ConfirmationPhrase).
				Value(&phrase),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", errors.New("aborted")
		}
		return "", err
	}
	return phrase, nil
}

func reportResult(cmd *cobra.Command, res executor.Result) error {
	if flags.json {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		renderResult(cmd.OutOrStdout(), res)
	}
	if res.State != executor.StateCommitted {
		return fmt.Errorf("apply finished in state %s", res.State)
	}
	return nil
}

func historyCmd() *cobra.Command {
	var (
		tenantID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the schema history of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				records, err := a.Engine.FetchHistory(ctx, tenantID, limit)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				renderHistory(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func planFlags(cmd *cobra.Command, tenantID, planID *string) {
	cmd.Flags().StringVar(tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(planID, "plan", "", "Plan id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("plan")
}

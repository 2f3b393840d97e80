package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tenant_schema_guard/internal/app"
	"tenant_schema_guard/internal/audit"
	"tenant_schema_guard/internal/store"
)

// PasswordEnv supplies the tenant password to "tenant add" when
// --password is not given.
const PasswordEnv = "DRIFTGUARD_TENANT_PASSWORD"

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage registered tenant databases",
	}
	cmd.AddCommand(tenantAddCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantDisableCmd())
	cmd.AddCommand(tenantTestCmd())
	return cmd
}

func tenantAddCmd() *cobra.Command {
	var in store.CreateTenantInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a tenant database",
		Long: `Register a tenant database. The password is encrypted with the
configured secret key before it is stored.

Examples:
  DRIFTGUARD_TENANT_PASSWORD=... driftguard tenant add --name acme --host db.internal --dbname acme --username driftguard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv(PasswordEnv)
			}
			if in.Password == "" {
				return errors.New("password required: pass --password or set " + PasswordEnv)
			}
			return withApp(cmd, app.Options{}, func(ctx context.Context, a *app.App) error {
				if err := in.Normalize(a.Config.Bootstrap.Namespace, a.Config.Bootstrap.Role); err != nil {
					return err
				}
				t, err := a.Store.CreateTenant(ctx, in)
				if err != nil {
					return err
				}
				_ = audit.NewPGSink(a.Pool, a.Logger).Record(ctx, audit.Event{
					Actor:      flags.actor,
					Action:     audit.ActionTenantCreated,
					EntityType: "tenant",
					EntityID:   &t.ID,
					Payload:    map[string]any{"name": t.Name, "host": t.Host, "dbname": t.DBName},
				})
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s tenant %s (%s)\n", safeColor.Sprint("Registered"), t.Name, t.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Display name")
	f.StringVar(&in.Host, "host", "", "Database host")
	f.IntVar(&in.Port, "port", 5432, "Database port")
	f.StringVar(&in.DBName, "dbname", "", "Database name")
	f.StringVar(&in.Username, "username", "", "Login role")
	f.StringVar(&in.Password, "password", "", "Login password")
	f.StringVar(&in.SSLMode, "sslmode", "prefer", "libpq sslmode")
	f.StringVar(&in.Namespace, "namespace", "", "Schema to compare (defaults to the configured bootstrap namespace)")
	f.StringVar(&in.AppRole, "app-role", "", "Application role that must exist (defaults to the configured bootstrap role)")
	return cmd
}

func tenantListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				tenants, err := a.Store.ListTenants(ctx, activeOnly)
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), tenants)
				}
				renderTenants(cmd.OutOrStdout(), tenants)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active tenants")
	return cmd
}

func tenantDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <tenant-id>",
		Short: "Disable a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", args[0], err)
			}
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				if err := a.Store.DisableTenant(ctx, id); err != nil {
					return err
				}
				_ = audit.NewPGSink(a.Pool, a.Logger).Record(ctx, audit.Event{
					Actor:      flags.actor,
					Action:     audit.ActionTenantDisabled,
					EntityType: "tenant",
					EntityID:   &id,
				})
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s disabled\n", id)
				return nil
			})
		},
	}
}

func tenantTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <tenant-id>",
		Short: "Check connectivity and bootstrap prerequisites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				boot, err := a.Engine.CheckTenant(ctx, args[0])
				if err != nil {
					return err
				}
				if flags.json {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"ok": boot == nil, "bootstrap": boot})
				}
				if boot == nil {
					fmt.Fprintln(cmd.OutOrStdout(), safeColor.Sprint("Connection ok, prerequisites present"))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s missing: %v\n%s\n\n%s\n", cautionColor.Sprint("Bootstrap required"), boot.Missing, boot.Hint, boot.SQL)
				return nil
			})
		},
	}
}

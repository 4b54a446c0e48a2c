package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline keeps the quality-control record of construction works.
- Works: a unit of work on a site object, assigned to a contractor.
- Reports: the contractor's daily log; completion percent moves the work's status.
- Inspections: checklists of checkpoints, submitted with defects for the non-compliant ones.
- Remediations: the contractor's fix for a defect, verified or rejected by the client.
- Feed: one chronological timeline of reports, inspections and chat per work, with tag facets.
- Unread: per-actor watermarks in the workspace database, or in Redis when notifications.redis_addr is set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("redis", "", "redis address for unread watermarks (overrides config)")
	for _, name := range []string{"workspace", "json", "actor-id", "redis"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(inspectionCmd())
	rootCmd.AddCommand(defectsCmd())
	rootCmd.AddCommand(remediationCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(unreadCmd())
	rootCmd.AddCommand(seenCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default siteline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate siteline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Role bindings"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacRolesCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor role and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				return printJSON(map[string]any{
					"actor_id":    actor.ID,
					"name":        actor.Name,
					"role":        actor.Role,
					"permissions": rt.Engine.Guard.Policy.Permissions(actor.Role),
				})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, name, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Bind an actor to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				return rt.Engine.GrantRole(ctx, actor, target, name, domain.Role(role))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "client, admin or contractor")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove an actor's role binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				return rt.Engine.RevokeRole(ctx, actor, target, domain.Role(role))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List roles with their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, _ domain.Actor) error {
				perms, err := rt.Engine.Repo.RolePermissions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(perms)
				}
				tw := newTable("Role", "Permissions")
				for _, role := range []domain.Role{domain.RoleClient, domain.RoleAdmin, domain.RoleContractor} {
					tw.AppendRow(table.Row{role, strings.Join(perms[string(role)], "\n")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys"}
	var target, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				key, secret, err := rt.Engine.CreateAPIKey(ctx, actor, target, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"key": key, "secret": secret})
			})
		},
	}
	create.Flags().StringVar(&target, "actor", "", "actor the key authenticates as (default: current actor)")
	create.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(create)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor domain.Actor) error {
				items, err := rt.Engine.AuditEvents(ctx, actor, entityKind, entityID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
			}
			rt, err := openRuntime(cmd.Context(), "siteline-api")
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				Feed:     rt.Feed,
				Notify:   rt.Notify,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacyActor,
					EnableDevLogin:         devLogin,
				},
				Log: rt.Log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			rt.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyActor, "allow-legacy-actor", false, "accept X-Actor-Id without a token")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable /auth/dev/login")
	_ = viper.BindEnv("jwt-secret")
	return cmd
}

// --- helpers ---

func openRuntime(ctx context.Context, service string) (*app.Runtime, error) {
	return app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		ActorID:   viper.GetString("actor-id"),
		Service:   service,
		RedisAddr: viper.GetString("redis"),
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime, domain.Actor) error) error {
	rt, err := openRuntime(ctx, "sl")
	if err != nil {
		return err
	}
	defer rt.Close()
	actor, err := rt.Actor(ctx, viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	return fn(ctx, rt, actor)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any, render func()) error {
	if viper.GetBool("json") || render == nil {
		return printJSON(v)
	}
	render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}

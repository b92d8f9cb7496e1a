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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"budgetline/internal/app"
	"budgetline/internal/config"
	"budgetline/internal/curve"
	"budgetline/internal/db"
	"budgetline/internal/domain"
	"budgetline/internal/engine"
	"budgetline/internal/migrate"
	"budgetline/internal/repo"
	"budgetline/internal/server"
	"budgetline/internal/timeline"
)

var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "budgetline",
	Short: "Budgetline CLI",
	Long: `Budgetline schedules a development budget across periods.
- Workspace: the .budgetline directory holding the database.
- Project: one development budget with its own config (baseline period, periods per year, defaults).
- Items: budget lines with a total, a duration in periods and a distribution profile.
  ABSOLUTE and MANUAL items start at a fixed period; DEPENDENT items start from their dependencies.
- Dependencies: "B waits on A" edges triggered at A's START, COMPLETE, a percent complete or a cumulative spend, plus an offset.
- Timeline: 'budgetline timeline calculate' resolves every start period and spreads each item's cost.
- Event log: every change is recorded, view with 'budgetline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := configureLogger(viper.GetString("log-level"), viper.GetString("log-format")); err != nil {
			return err
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
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
	viper.SetEnvPrefix("BUDGETLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project in the workspace)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func configureLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger.SetLevel(lvl)
	logger.SetOutput(os.Stderr)
	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (text or json)", format)
	}
	return nil
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Status", "Description", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Status, p.Description, p.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, desc, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectCreateOptions{ID: id, Description: desc, ActorID: viper.GetString("actor-id")}
			if file != "" {
				cfg, err := config.FromFile(file)
				if err != nil {
					return err
				}
				opts.Config = cfg
			}
			return withStore(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&file, "config", "", "seed the project config from a YAML file")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				p, err := e.UpdateProject(ctx, projectID, status, descPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active or archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete a project with its items, dependencies and timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			if target == "" {
				return fmt.Errorf("--project required")
			}
			return withStore(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, target, viper.GetString("actor-id"))
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				cfg, err := e.ProjectConfig(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if viper.GetString("project") == "" {
				viper.Set("project", cfg.Project.ID)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				saved, err := e.SetProjectConfig(ctx, projectID, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage budget items"}
	it.AddCommand(itemAddCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemShowCmd())
	it.AddCommand(itemUpdateCmd())
	it.AddCommand(itemDeleteCmd())
	return it
}

type itemFlags struct {
	id, description, amount, timing, profile, escalationTiming string
	start, periods, sortOrder                                  int
	steepness, escalation                                      float64
	clearEscalation                                            bool
}

func (f *itemFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.amount, "amount", "", "total amount")
	cmd.Flags().StringVar(&f.timing, "timing", "", "timing method (ABSOLUTE, DEPENDENT, MANUAL)")
	cmd.Flags().IntVar(&f.start, "start", 0, "start period for ABSOLUTE and MANUAL items")
	cmd.Flags().IntVar(&f.periods, "periods", 1, "periods to complete")
	cmd.Flags().StringVar(&f.profile, "profile", "", "distribution profile (LINEAR, FRONT_LOADED, BACK_LOADED, BELL_CURVE, MILESTONE)")
	cmd.Flags().Float64Var(&f.steepness, "steepness", 0, "curve steepness")
	cmd.Flags().Float64Var(&f.escalation, "escalation", 0, "annual escalation percent")
	cmd.Flags().StringVar(&f.escalationTiming, "escalation-timing", "", "escalation timing (TO_START, THROUGHOUT)")
	cmd.Flags().IntVar(&f.sortOrder, "sort-order", 0, "position in the budget grid")
}

func itemAddCmd() *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a budget item",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(f.amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			opts := engine.ItemCreateOptions{
				ID:                f.id,
				Description:       f.description,
				TotalAmount:       amount,
				PeriodsToComplete: f.periods,
				ActorID:           viper.GetString("actor-id"),
			}
			if f.timing != "" {
				if opts.TimingMethod, err = domain.ParseTimingMethod(f.timing); err != nil {
					return err
				}
			}
			if f.profile != "" {
				if opts.DistributionProfile, err = domain.ParseDistributionProfile(f.profile); err != nil {
					return err
				}
			}
			if f.escalationTiming != "" {
				if opts.EscalationTiming, err = domain.ParseEscalationTiming(f.escalationTiming); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("start") {
				opts.StartPeriod = &f.start
			}
			if cmd.Flags().Changed("steepness") {
				opts.CurveSteepness = &f.steepness
			}
			if cmd.Flags().Changed("escalation") {
				opts.EscalationPct = &f.escalation
			}
			if cmd.Flags().Changed("sort-order") {
				opts.SortOrder = &f.sortOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts.ProjectID = projectID
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&f.id, "id", "", "item id (generated when empty)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func itemListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List budget items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				rows, err := e.ListItems(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "ID", "Description", "Amount", "Timing", "Start", "Periods", "Profile", "Deps"})
				for _, r := range rows {
					tw.AppendRow(table.Row{
						r.SortOrder, r.ID, r.Description, r.TotalAmount.StringFixed(curve.Scale),
						r.TimingMethod, optionalInt(r.StartPeriod), r.PeriodsToComplete, r.DistributionProfile, r.DependencyCount,
					})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a budget item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				it, err := e.GetItem(ctx, projectID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemUpdateCmd() *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Update a budget item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ItemUpdateOptions{
				ID:              args[0],
				ClearEscalation: f.clearEscalation,
				ActorID:         viper.GetString("actor-id"),
			}
			changed := cmd.Flags().Changed
			if changed("description") {
				opts.Description = &f.description
			}
			if changed("amount") {
				amount, err := decimal.NewFromString(f.amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				opts.TotalAmount = &amount
			}
			if changed("timing") {
				tm, err := domain.ParseTimingMethod(f.timing)
				if err != nil {
					return err
				}
				opts.TimingMethod = &tm
			}
			if changed("profile") {
				p, err := domain.ParseDistributionProfile(f.profile)
				if err != nil {
					return err
				}
				opts.DistributionProfile = &p
			}
			if changed("escalation-timing") {
				et, err := domain.ParseEscalationTiming(f.escalationTiming)
				if err != nil {
					return err
				}
				opts.EscalationTiming = &et
			}
			if changed("start") {
				opts.StartPeriod = &f.start
			}
			if changed("periods") {
				opts.PeriodsToComplete = &f.periods
			}
			if changed("steepness") {
				opts.CurveSteepness = &f.steepness
			}
			if changed("escalation") {
				opts.EscalationPct = &f.escalation
			}
			if changed("sort-order") {
				opts.SortOrder = &f.sortOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts.ProjectID = projectID
				it, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&f.clearEscalation, "clear-escalation", false, "remove the escalation percent")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete a budget item and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				return e.DeleteItem(ctx, projectID, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func depCmd() *cobra.Command {
	d := &cobra.Command{Use: "dep", Short: "Manage item dependencies"}
	d.AddCommand(depAddCmd())
	d.AddCommand(depListCmd())
	d.AddCommand(depRemoveCmd())
	return d
}

func depAddCmd() *cobra.Command {
	var id, dependent, triggerItem, event, value string
	var offset int
	var soft bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Make an item wait on another",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := domain.ParseTriggerEvent(event)
			if err != nil {
				return err
			}
			hard := !soft
			opts := engine.DependencyCreateOptions{
				ID:              id,
				DependentItemID: dependent,
				TriggerItemID:   triggerItem,
				TriggerEvent:    ev,
				OffsetPeriods:   offset,
				Hard:            &hard,
				ActorID:         viper.GetString("actor-id"),
			}
			if value != "" {
				v, err := decimal.NewFromString(value)
				if err != nil {
					return fmt.Errorf("invalid --value: %w", err)
				}
				opts.TriggerValue = decimal.NewNullDecimal(v)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts.ProjectID = projectID
				d, err := e.AddDependency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "dependency id (generated when empty)")
	cmd.Flags().StringVar(&dependent, "item", "", "dependent item id")
	cmd.Flags().StringVar(&triggerItem, "on", "", "trigger item id")
	cmd.Flags().StringVar(&event, "event", "COMPLETE", "trigger event (ABSOLUTE, START, COMPLETE, PCT_COMPLETE, CUMULATIVE_AMOUNT)")
	cmd.Flags().StringVar(&value, "value", "", "percent or amount threshold for PCT_COMPLETE and CUMULATIVE_AMOUNT")
	cmd.Flags().IntVar(&offset, "offset", 0, "periods added to the trigger period")
	cmd.Flags().BoolVar(&soft, "soft", false, "soft dependency (only used when no hard dependency applies)")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

func depListCmd() *cobra.Command {
	var itemID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				deps, err := e.ListDependencies(ctx, repo.DependencyFilters{ProjectID: projectID, DependentItemID: itemID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Item", "Waits On", "Event", "Value", "Offset", "Hard"})
				for _, d := range deps {
					val := ""
					if d.TriggerValue.Valid {
						val = d.TriggerValue.Decimal.String()
					}
					tw.AppendRow(table.Row{d.ID, d.DependentItemID, d.TriggerItemID, d.TriggerEvent, val, d.OffsetPeriods, d.IsHardDependency})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "only dependencies of this item")
	return cmd
}

func depRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dependency-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				return e.RemoveDependency(ctx, projectID, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	tl := &cobra.Command{Use: "timeline", Short: "Calculate and show project timelines"}
	tl.AddCommand(&cobra.Command{
		Use:   "calculate",
		Short: "Recalculate the project timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				t, err := e.CalculateTimeline(ctx, projectID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTimeline(t)
			})
		},
	})
	tl.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the last calculated timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				t, err := e.CachedTimeline(ctx, projectID)
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("no timeline for %s yet; run budgetline timeline calculate", projectID)
				}
				if err != nil {
					return err
				}
				return printTimeline(t)
			})
		},
	})
	return tl
}

func printTimeline(t *timeline.Timeline) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Item", "Timing", "State", "Start", "End", "Amount", "Issue"})
	for _, it := range t.Items {
		issue := ""
		if it.Error != nil {
			issue = fmt.Sprintf("%s: %s", it.Error.Code, it.Error.Message)
		} else if len(it.Warnings) > 0 {
			issue = string(it.Warnings[0].Code)
		}
		tw.AppendRow(table.Row{
			it.ItemID, it.TimingMethod, it.State, optionalInt(it.StartPeriod), optionalInt(it.EndPeriod),
			it.EffectiveAmount.StringFixed(curve.Scale), issue,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", optionalInt(t.Summary.FirstPeriod), optionalInt(t.Summary.LastPeriod), t.Summary.TotalAmount.StringFixed(curve.Scale), ""})
	fmt.Println(tw.Render())

	if len(t.PeriodTotals) > 0 {
		pt := newTable()
		pt.AppendHeader(table.Row{"Period", "Amount"})
		for _, p := range t.PeriodTotals {
			pt.AppendRow(table.Row{p.Period, p.Amount.StringFixed(curve.Scale)})
		}
		fmt.Println(pt.Render())
	}
	fmt.Printf("%d items, %d resolved, %d blocked, %d warnings\n",
		t.Summary.ItemCount, t.Summary.ResolvedCount, t.Summary.BlockedCount, t.Summary.WarningCount)
	return nil
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				events, err := e.ListEvents(ctx, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:    viper.GetString("jwt-secret"),
					DefaultActor: viper.GetString("actor-id"),
				}
				if authCfg.JWTSecret == "" {
					logger.Warn("BUDGETLINE_JWT_SECRET not set; serving without authentication")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Log: logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("server starting")
				fmt.Printf("Serving Budgetline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env BUDGETLINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BUDGETLINE_JWT_SECRET is required to sign tokens")
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "subject": subject, "expires_in": ttl.String()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

// withStore opens the workspace database, migrated, without selecting a project.
func withStore(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, logger))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withStore(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, projectID)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

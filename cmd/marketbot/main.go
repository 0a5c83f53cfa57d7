package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketbot/internal/action"
	"marketbot/internal/app"
	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/domain"
	"marketbot/internal/engine"
	"marketbot/internal/events"
	"marketbot/internal/interaction"
	"marketbot/internal/log"
	"marketbot/internal/migrate"
	"marketbot/internal/repo"
	"marketbot/internal/server"
	marketbotsdk "marketbot/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "marketbot",
	Short: "Marketbot chat marketplace",
	Long: `Marketbot runs auctions, markets, trades and giveaways inside chat rooms.
- serve: connect to the chat platform, route button and dialog interactions, and run the lifecycle jobs.
- Lifecycle jobs activate scheduled listings, expire ended ones, close them after the grace period and end discounts.
- The operator API (served alongside the bot) reports job status and can trigger a sweep by hand.
- Everything else here works directly against the workspace database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Configure(log.Config{Level: viper.GetString("log-level")})
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MARKETBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "operator", "actor identifier recorded on events")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-url", "http://127.0.0.1:8080", "operator API address for remote commands")
	rootCmd.PersistentFlags().String("api-token", "", "bearer token for the operator API")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "api-url", "api-token"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(listingCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the lifecycle jobs and the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := app.ResolveConfig(workspace, app.Overrides{
				DiscordToken: viper.GetString("discord_token"),
				DiscordAppID: viper.GetString("discord_app_id"),
				HTTPAddr:     addr,
				JWTSecret:    viper.GetString("jwt_secret"),
				LogLevel:     viper.GetString("log-level"),
			})
			if err != nil {
				return err
			}
			log.Configure(log.Config{Level: cfg.Log.Level})
			if cfg.HTTP.Addr != "" && cfg.HTTP.JWTSecret == "" {
				return fmt.Errorf("MARKETBOT_JWT_SECRET or http.jwt_secret is required for the operator API")
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			a, err := app.New(app.Options{DB: conn, Config: cfg, Logger: log.Base()})
			if err != nil {
				return err
			}
			if cfg.HTTP.Addr != "" {
				fmt.Printf("Operator API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
					cfg.HTTP.Addr, cfg.HTTP.BasePath, cfg.HTTP.BasePath)
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "operator API listen address (overrides http.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			before, err := migrate.Current(conn)
			if err != nil {
				return err
			}
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			after, err := migrate.Current(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"from": before, "to": after})
			}
			fmt.Printf("schema version %d -> %d\n", before, after)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage marketbot.yml",
		Long:  "Config holds the platform token, the operator API settings, the listing rules and one schedule per lifecycle job.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default marketbot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			cfg.Discord.Token = redact(cfg.Discord.Token)
			cfg.HTTP.JWTSecret = redact(cfg.HTTP.JWTSecret)
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate marketbot.yml",
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
	return cmd
}

func tenantCmd() *cobra.Command {
	t := &cobra.Command{Use: "tenant", Short: "Manage tenants (one per server)"}
	t.AddCommand(tenantListCmd())
	t.AddCommand(tenantSetManagersCmd())
	return t
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tenant", "Manager roles", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, strings.Join(t.ManagerRoleIDs, ", "), t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tenantSetManagersCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "set-managers <tenant-id>",
		Short: "Replace the roles allowed to manage every listing in a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTenantManagers(ctx, args[0], roles, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "manager role id (repeatable)")
	return cmd
}

func listingCmd() *cobra.Command {
	l := &cobra.Command{Use: "listing", Short: "Manage listings"}
	l.AddCommand(listingCreateCmd())
	l.AddCommand(listingListCmd())
	l.AddCommand(listingShowCmd())
	return l
}

func listingCreateCmd() *cobra.Command {
	var opts engine.ListingCreateOptions
	var kind, price, increment string
	var startsIn, duration time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kind = domain.ListingKind(kind)
			var err error
			if price != "" {
				if opts.PriceCents, err = domain.ParseCents(price); err != nil {
					return fmt.Errorf("--price: %w", err)
				}
			}
			if increment != "" {
				if opts.MinIncrement, err = domain.ParseCents(increment); err != nil {
					return fmt.Errorf("--min-increment: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := e.Now()
				opts.StartsAt = now.Add(startsIn)
				opts.EndsAt = opts.StartsAt.Add(duration)
				opts.ActorID = viper.GetString("actor-id")
				l, err := e.CreateListing(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&opts.RoomID, "room", "", "room id")
	cmd.Flags().StringVar(&opts.ItemRef, "item", "", "item reference (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindAuction), "auction|market|trade|giveaway")
	cmd.Flags().StringVar(&opts.SellerID, "seller", "", "seller user id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ImageURL, "image", "", "image url")
	cmd.Flags().StringVar(&price, "price", "", "starting or unit price, e.g. 12.50")
	cmd.Flags().StringVar(&increment, "min-increment", "", "minimum bid increment")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 1, "units for sale")
	cmd.Flags().DurationVar(&startsIn, "starts-in", 0, "delay before the listing opens")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "how long the listing runs")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("seller")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func listingListCmd() *cobra.Command {
	var f repo.ListingFilters
	var status, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ListingStatus(status)
			f.Kind = domain.ListingKind(kind)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListListings(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Listing", "Kind", "Status", "Name", "Price", "Qty", "Ends"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ListingReference.String(), l.Kind, l.Status, l.Name,
						domain.FormatCents(l.EffectivePriceCents()), l.Quantity, l.EndsAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "tenant filter")
	cmd.Flags().StringVar(&f.RoomID, "room", "", "room filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func listingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <tenant-id> <room-id> <item-ref>",
		Short: "Show a listing with its bids or offers",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := domain.ListingReference{TenantID: args[0], RoomID: args[1], ItemRef: args[2]}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.GetListing(ctx, ref)
				if err != nil {
					return err
				}
				detail := server.ListingDetail{Listing: l}
				switch l.Kind {
				case domain.KindAuction:
					detail.Bids, err = e.Repo.ListBids(ctx, ref)
				case domain.KindTrade:
					detail.Offers, err = e.Repo.ListOffers(ctx, ref)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func jobsCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect lifecycle jobs on a running bot",
		Long:  "Talks to the operator API of a running 'marketbot serve' (see --api-url and --api-token).",
	}
	j.AddCommand(jobsStatusCmd())
	j.AddCommand(jobsSweepCmd())
	return j
}

func jobsStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job state, last run and next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := apiClient().Jobs(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Job", "State", "Sweeping", "Last run", "Took", "Next run", "Runs", "Skipped ticks"})
			for _, s := range items {
				tw.AppendRow(table.Row{s.Name, s.State, s.Sweeping, s.LastRun,
					(time.Duration(s.LastDurationMS) * time.Millisecond).String(), s.NextRun, s.Runs, s.SkippedTicks})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func jobsSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep <job>",
		Short: "Run one sweep of a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := apiClient().RunJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Listing", "Outcome", "Reason"})
			for _, r := range res.Results {
				tw.AppendRow(table.Row{r.Listing, r.Outcome, r.Reason})
			}
			tw.AppendFooter(table.Row{"", fmt.Sprintf("%d transitioned", res.Counts["transitioned"]), ""})
			tw.Render()
			return nil
		},
	}
	return cmd
}

func actionCmd() *cobra.Command {
	a := &cobra.Command{Use: "action", Short: "Encode and decode component identifiers"}
	a.AddCommand(&cobra.Command{
		Use:   "decode <custom-id>",
		Short: "Show how an identifier is routed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := action.Decode(args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"verb":     id.Verb,
				"family":   id.Family(),
				"segments": id.Segments,
			}
			if d := id.Discriminator(); d != "" {
				out["discriminator"] = d
			}
			if s, ok := interaction.SchemaFor(id); ok {
				fields := make([]string, 0, len(s.Fields))
				for _, f := range s.Fields {
					fields = append(fields, f.Name)
				}
				out["dialog"] = map[string]any{"title": s.Title, "fields": fields}
			}
			return printJSONOrTable(out)
		},
	})
	a.AddCommand(&cobra.Command{
		Use:   "encode <verb> [segments...]",
		Short: "Build an identifier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := action.Encode(action.Verb(args[0]), args[1:]...)
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		},
	})
	return a
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Operator API tokens"}
	var subject string
	var roles []string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				secret = cfg.HTTP.JWTSecret
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			tok, err := server.MintToken(secret, subject, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	mint.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	mint.Flags().StringSliceVar(&roles, "role", []string{server.RoleOperator}, "roles claim")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime; 0 never expires")
	t.AddCommand(mint)
	return t
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var tenantID, evtType, roomID, itemRef string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var entityID string
				if roomID != "" && itemRef != "" {
					entityID = events.EntityID(domain.ListingReference{RoomID: roomID, ItemRef: itemRef})
				}
				items, err := r.LatestEvents(ctx, n, tenantID, evtType, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&tenantID, "tenant", "", "tenant filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&roomID, "room", "", "room id (with --item)")
	tail.Flags().StringVar(&itemRef, "item", "", "item reference (with --room)")
	l.AddCommand(tail)
	return l
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func apiClient() *marketbotsdk.Client {
	c := marketbotsdk.New(viper.GetString("api-url"), "")
	c.BearerToken = viper.GetString("api-token")
	return c
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

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

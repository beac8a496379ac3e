package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/cmdgate/pkg/adapter"
	"github.com/zen-systems/cmdgate/pkg/cache"
	"github.com/zen-systems/cmdgate/pkg/config"
	"github.com/zen-systems/cmdgate/pkg/dispatch"
	"github.com/zen-systems/cmdgate/pkg/pipeline"
	"github.com/zen-systems/cmdgate/pkg/planner"
	"github.com/zen-systems/cmdgate/pkg/ratelimit"
	"github.com/zen-systems/cmdgate/pkg/registry"
	"github.com/zen-systems/cmdgate/pkg/retrieval"
	"github.com/zen-systems/cmdgate/pkg/router"
	"github.com/zen-systems/cmdgate/pkg/schema"
	"github.com/zen-systems/cmdgate/pkg/server"
)

var (
	configFile string
	aliases    *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cmdgate",
		Short: "Command routing front end with evidence-backed responses",
		Long: `Cmdgate routes natural-language commands to tools, built-in handlers,
	or a language model, records every tool invocation in a per-request
	evidence ledger, and validates each response against that ledger before
	it leaves the process.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		hostFlag string
		portFlag int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if errs := aliases.ValidateRoutingConfig(cfg.RoutingConfig); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "routing config: %s\n", e)
				}
				return fmt.Errorf("invalid routing config: %w", errs[0])
			}
			if hostFlag != "" {
				cfg.Server.Host = hostFlag
			}
			if portFlag != 0 {
				cfg.Server.Port = portFlag
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			p, store, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			srv := server.New(cfg.Server, p, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&hostFlag, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&portFlag, "port", 0, "listen port (overrides config)")
	return cmd
}

func runCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "run [text]",
		Short: "Route a single command and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			p, store, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			env, err := p.Handle(cmd.Context(), schema.NewRequest(args[0], "cli"))
			if err != nil {
				return err
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(env)
			}

			fmt.Println(env.Text)
			if len(env.Evidence) > 0 {
				fmt.Fprintf(os.Stderr, "\n%d tool call(s), route %s, validation %s\n",
					len(env.Evidence), env.Route, env.Validation)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full response envelope as JSON")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show current routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rc := cfg.RoutingConfig

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RULE\tKIND\tTARGET\tTRIGGERS")

			for _, name := range sortedKeys(rc.FastPaths) {
				fp := rc.FastPaths[name]
				fmt.Fprintf(w, "%s\tfastpath\t-\t%s\n", name, strings.Join(fp.Triggers, ", "))
			}
			for _, name := range sortedKeys(rc.Tools) {
				tr := rc.Tools[name]
				fmt.Fprintf(w, "%s\ttool\t%s\t%s\n", name, tr.Tool, strings.Join(tr.Patterns, ", "))
			}
			for _, name := range sortedKeys(rc.Builtins) {
				b := rc.Builtins[name]
				fmt.Fprintf(w, "%s\tbuiltin\t%s\t%s\n", name, b.Handler, strings.Join(b.Triggers, ", "))
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "DELEGATE\t%s\t%s\t-\n", rc.Delegate.Adapter, rc.Delegate.Model)
			return w.Flush()
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and their arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			reg, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tARGUMENTS")
			for _, name := range reg.Names() {
				tool, ok := reg.Get(name)
				if !ok {
					continue
				}
				var fields []string
				for field, spec := range tool.Schema() {
					if spec.Required {
						fields = append(fields, field)
					} else {
						fields = append(fields, field+"?")
					}
				}
				sort.Strings(fields)
				fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(fields, ", "))
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List delegate adapters, models, and aliases",
		Long: `Lists the adapters the delegate path can target and their models.

	Use --resolve to show aliases and what they resolve to.
	Use --validate to check the configured delegate target resolves to a
	valid model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}
			if validateFlag {
				return validateDelegate(cfg)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")
			for _, provider := range aliases.ListProviders() {
				status := "no key"
				if cfg.HasAdapter(provider) || provider == "mock" {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, strings.Join(aliases.GetProviderModels(provider), ", "), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check the delegate target resolves to a valid model")
	return cmd
}

func showAliases() error {
	aliasMap := aliases.ListAliases()
	if len(aliasMap) == 0 {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
	for _, name := range sortedKeys(aliasMap) {
		model := aliasMap[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, model, aliases.GetProviderForModel(model))
	}
	return w.Flush()
}

func validateDelegate(cfg *config.Config) error {
	target := cfg.RoutingConfig.Delegate
	if aliases.IsAlias(target.Model) {
		fmt.Printf("delegate model %q is an alias for %q\n", target.Model, aliases.Resolve(target.Model))
	}

	errs := aliases.ValidateRoutingConfig(cfg.RoutingConfig)
	if len(errs) == 0 {
		fmt.Printf("delegate target %s/%s is valid\n", target.Adapter, aliases.Resolve(target.Model))
		return nil
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  - %s\n", e)
	}
	return fmt.Errorf("validation failed")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, _ = config.LoadAliasesWithFallback("configs/models.yaml")

	return cfg, nil
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	tools := []registry.Tool{
		registry.ReadFileTool{},
		registry.ListDirTool{},
		registry.LaunchAppTool{},
		registry.OBSSceneTool{Endpoint: cfg.OBSEndpoint},
		registry.OBSStatusTool{Endpoint: cfg.OBSEndpoint},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return reg, nil
}

func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, cache.Store, error) {
	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}

	var store cache.Store
	if cfg.Cache.Enabled {
		if cfg.Cache.Path != "" {
			store, err = cache.OpenSQLite(cfg.Cache.Path, cfg.Cache.TTL)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open response cache: %w", err)
			}
		} else {
			store = cache.NewMemoryStore(cfg.Cache.TTL)
		}
	}

	limiter := ratelimit.New(cfg.RateLimit.RefillPerSecond, cfg.RateLimit.Burst)

	disp := dispatch.New(reg)
	deps := dispatch.BuiltinDeps{
		Registry:      reg,
		Dispatcher:    disp,
		Adapters:      adapterNames(adapters),
		StartedAt:     time.Now(),
		ActiveClients: limiter.ActiveClients,
	}
	if counter, ok := store.(interface{ Len() int }); ok {
		deps.CachedEntries = counter.Len
	}
	builtins := dispatch.NewBuiltins(deps)

	var retriever retrieval.Retriever
	if endpoint := cfg.RoutingConfig.Retrieval.Endpoint; endpoint != "" {
		retriever = retrieval.NewHTTPRetriever(endpoint)
	}

	p, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Router:     router.New(cfg.RoutingConfig),
		Planner:    planner.New(reg),
		Dispatcher: disp,
		Builtins:   builtins,
		Limiter:    limiter,
		Store:      store,
		Retriever:  retriever,
		Adapters:   adapters,
		Aliases:    aliases,
		Logger:     logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return p, store, nil
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

func adapterNames(adapters map[string]adapter.Adapter) []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

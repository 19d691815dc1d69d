package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/audit"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/config"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/oracle"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/pipeline"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/prompt"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/store"
	"github.com/parthipan76/ruleengine-automation-sub000/internal/telemetry"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// convert flags
	inputFile   string
	format      string
	modelFlag   string
	parallelism int

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ruleflow",
	Short: "ruleflow - business-rule statements to structured rule trees",
	Long: `ruleflow converts free-text business-rule statements into structured
rule trees through a staged LLM pipeline.

Each stage (validation, decomposition, condition extraction, schedule
extraction, rule conversion, unified synthesis, action extraction) is audited
for fidelity against its input and retried with a refined instruction when
the consistency score falls below the stage threshold.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert [statement...]",
	Short: "Convert business-rule statements into rule trees",
	Long: `Convert one or more free-text business-rule statements into rule trees.

Statements come from the arguments, or one per line from --file.
Multiple statements run concurrently, paced by the configured request delay.`,
	RunE: runConvert,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product/policy term catalog",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <term> <policy>",
	Short: "Add or replace a catalog term",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(ctx context.Context, c *store.Catalog) error {
			return c.UpsertTerm(ctx, args[0], args[1])
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog terms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(ctx context.Context, c *store.Catalog) error {
			terms, err := c.Terms(ctx)
			if err != nil {
				return err
			}
			for _, t := range terms {
				fmt.Printf("%-24s %s\n", t.Term, t.Policy)
			}
			return nil
		})
	},
}

var catalogRmCmd = &cobra.Command{
	Use:   "rm <term>",
	Short: "Remove a catalog term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(ctx context.Context, c *store.Catalog) error {
			return c.DeleteTerm(ctx, args[0])
		})
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Show the active stage instructions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		reg := prompt.NewRegistry(logger)
		if cfg.Prompts.Dir != "" {
			if err := reg.LoadDir(cfg.Prompts.Dir); err != nil {
				return err
			}
		}
		for _, stage := range prompt.StageOrder {
			instruction, err := reg.Get(stage)
			if err != nil {
				return err
			}
			fmt.Printf("=== %s ===\n%s\n\n", stage, instruction)
		}
		return nil
	},
}

func withCatalog(fn func(context.Context, *store.Catalog) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	c, err := store.Open(cfg.Catalog.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}

func buildClient(ctx context.Context, cfg *config.Config) (oracle.Client, error) {
	limiter := oracle.NewRateLimiter(cfg.GetRequestDelay())
	switch cfg.Oracle.Provider {
	case "gemini":
		return oracle.NewGeminiClient(ctx, oracle.GeminiConfig{
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Limiter: limiter,
		})
	default:
		return oracle.NewHTTPClient(oracle.HTTPConfig{
			APIKey:  cfg.Oracle.APIKey,
			BaseURL: cfg.Oracle.BaseURL,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.GetOracleTimeout(),
			Limiter: limiter,
		}), nil
	}
}

func readStatements(args []string) ([]string, error) {
	statements := append([]string(nil), args...)
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				statements = append(statements, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("no statements given (pass arguments or --file)")
	}
	return statements, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if modelFlag != "" {
		cfg.Oracle.Model = modelFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	statements, err := readStatements(args)
	if err != nil {
		return err
	}

	client, err := buildClient(ctx, cfg)
	if err != nil {
		return err
	}

	registry := prompt.NewRegistry(logger)
	if cfg.Prompts.Dir != "" {
		if err := registry.LoadDir(cfg.Prompts.Dir); err != nil {
			return err
		}
		if cfg.Prompts.Watch {
			watcher, err := prompt.NewWatcher(cfg.Prompts.Dir, registry, logger)
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
		}
	}

	var queue *telemetry.Queue
	if cfg.Telemetry.Enabled {
		shipper := telemetry.NewHTTPShipper(telemetry.HTTPShipperConfig{
			Host:      cfg.Telemetry.Host,
			PublicKey: cfg.Telemetry.PublicKey,
			SecretKey: cfg.Telemetry.SecretKey,
		})
		queue = telemetry.NewQueue(shipper, logger)
		queue.Enable()
		queue.Start(ctx)
		defer queue.Stop()
	}

	catalog, err := store.Open(cfg.Catalog.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	stageOverrides := make(map[string]pipeline.StageConfig, len(cfg.Stages))
	for name, sc := range cfg.Stages {
		stageOverrides[name] = pipeline.StageConfig{
			ConsistencyThreshold: sc.ConsistencyThreshold,
			MaxRetries:           sc.MaxRetries,
		}
	}

	stages, err := pipeline.BuildStages(pipeline.Deps{
		Client:    client,
		Auditor:   audit.NewAuditor(client, logger),
		Refiner:   audit.NewRefiner(client, logger),
		Prompts:   registry,
		Logger:    logger,
		ModelName: cfg.Oracle.Model,
	}, stageOverrides)
	if err != nil {
		return err
	}
	engine := pipeline.NewEngine(stages, queue, logger)

	results := make([]*pipeline.State, len(statements))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, statement := range statements {
		g.Go(func() error {
			state := engine.Run(gctx, pipeline.NewState(statement))
			if state.Completed() {
				if _, err := catalog.AnnotatePolicies(gctx, state.Tree, statement); err != nil {
					logger.Warn("policy annotation failed", zap.Error(err))
				}
			}
			results[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failures := 0
	for _, state := range results {
		if err := printResult(state); err != nil {
			return err
		}
		if state.TerminalFailure {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d statements failed", failures, len(statements))
	}
	return nil
}

func printResult(state *pipeline.State) error {
	fmt.Printf("--- %s\n", state.Input)
	if state.TerminalFailure {
		fmt.Printf("FAILED: %s\n\n", state.FailureReason)
		return nil
	}
	switch format {
	case "ascii":
		fmt.Println(ruletree.RenderASCII(state.Tree.Root))
	case "dsl":
		fmt.Println(ruletree.RenderDSL(state.Tree.Root))
	case "json":
		out, err := ruletree.RenderJSON(state.Tree.Root)
		if err != nil {
			return err
		}
		fmt.Println(out)
	case "graph":
		fmt.Println(ruletree.RenderGraph(state.Tree.Root))
	default:
		return fmt.Errorf("unknown format %q (ascii, dsl, json, graph)", format)
	}
	fmt.Println()
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "ruleflow.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	convertCmd.Flags().StringVarP(&inputFile, "file", "f", "", "file with one statement per line")
	convertCmd.Flags().StringVar(&format, "format", "ascii", "output format: ascii, dsl, json, graph")
	convertCmd.Flags().StringVar(&modelFlag, "model", "", "override the configured oracle model")
	convertCmd.Flags().IntVar(&parallelism, "parallelism", 4, "max statements processed concurrently")

	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogRmCmd)
	rootCmd.AddCommand(convertCmd, catalogCmd, promptsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/config"
	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/metrics"
	"github.com/TobiSchelling/shopscout/internal/pipeline"
	"github.com/TobiSchelling/shopscout/internal/schema"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shopscout",
	Short:   "Keyword to product recommendation",
	Long:    "shopscout classifies a product keyword, searches marketplaces for listings, enriches and ranks them, and recommends the best picks.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("shopscout", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/shopscout/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the LLM provider and connectors, then export the API keys it names.")
		return nil
	},
}

// --- run command ---

var (
	outputFormat string
	metricsFile  string
)

var runCmd = &cobra.Command{
	Use:   "run <keyword>",
	Short: "Run the full pipeline: discovery -> retrieval -> processing -> comparison -> output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "json" && outputFormat != "text" {
			return fmt.Errorf("unknown format %q (want json or text)", outputFormat)
		}

		m := metrics.New()
		pipe, err := pipeline.FromConfig(cfg, cfg.Secrets(os.Getenv), logger, m)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, runErr := pipe.Run(ctx, strings.Join(args, " "))

		if metricsFile != "" {
			if err := m.WriteTextfile(metricsFile); err != nil {
				logger.Warn("could not write metrics", zap.Error(err))
			}
		}

		if runErr != nil {
			printSteps(cmd.ErrOrStderr(), result)
			return runErr
		}

		if outputFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), result.Report)
		}
		printSteps(cmd.ErrOrStderr(), result)
		printReport(cmd.OutOrStdout(), result.Report)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: json or text")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
}

// --- classify command ---

var classifyCmd = &cobra.Command{
	Use:   "classify <keyword>",
	Short: "Classify a keyword into a domain and suggest products and platforms",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := pipeline.FromConfig(cfg, cfg.Secrets(os.Getenv), logger, nil)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		classification, err := pipe.Classify(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), classification)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSteps(w io.Writer, result *pipeline.Result) {
	if result == nil {
		return
	}
	for i, step := range result.Steps {
		fmt.Fprintf(w, "Step %d/5: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Fprintf(w, "  Error: %v\n", step.Err)
		} else {
			fmt.Fprintf(w, "  %s\n", step.Summary)
		}
	}
}

func printReport(w io.Writer, r *schema.FinalReport) {
	fmt.Fprintf(w, "\n%s (%s)\n", r.Keyword, r.Domain)
	if r.TopRecommendation != nil {
		fmt.Fprintf(w, "Top recommendation: %s\n", *r.TopRecommendation)
	}
	if r.Insights != nil {
		fmt.Fprintf(w, "%s\n", *r.Insights)
	}

	if c := r.Comparison; c != nil && len(c.Rows) > 0 {
		fmt.Fprintln(w, "\nRanking:")
		for i, row := range c.Rows {
			fmt.Fprintf(w, "  %2d. %s  score %.4f", i+1, row.Title, row.Score)
			if row.Price != nil {
				fmt.Fprintf(w, "  %s %.2f", schema.Deref(row.Currency), *row.Price)
			}
			if row.Rating != nil {
				fmt.Fprintf(w, "  rating %.1f", *row.Rating)
			}
			fmt.Fprintln(w)
		}
		for _, pick := range []struct {
			label string
			title *string
		}{
			{"Best overall", c.BestOverall},
			{"Best budget", c.BestBudget},
			{"Best premium", c.BestPremium},
		} {
			if pick.title != nil {
				fmt.Fprintf(w, "%s: %s\n", pick.label, *pick.title)
			}
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

// Package main is the entry point for the faktory-worker binary: a
// standalone launcher that loads user job registrations from a plugin,
// builds a Worker, and runs it until shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	faktory "github.com/faktory-go/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	queues      []string
	concurrency int
	timeout     int
	labels      []string
	require     string
	verbose     bool
	url         string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:     "faktory-worker",
		Short:   "faktory-worker runs a Faktory job worker process",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringArrayVarP(&cfg.queues, "queue", "q", []string{"default"}, "queue spec, repeatable: bare name for ordered mode, name,weight for weighted mode")
	root.PersistentFlags().IntVarP(&cfg.concurrency, "concurrency", "c", 20, "maximum number of jobs processed concurrently")
	root.PersistentFlags().IntVarP(&cfg.timeout, "timeout", "t", 8, "graceful shutdown budget, in seconds")
	root.PersistentFlags().StringArrayVarP(&cfg.labels, "label", "l", nil, "label advertised to the server, repeatable")
	root.PersistentFlags().StringVarP(&cfg.require, "require", "r", "", "path to a Go plugin exporting Register(*faktory.Registry) that preloads job handlers")
	root.PersistentFlags().BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&cfg.url, "url", "", "Faktory connection URL (defaults to FAKTORY_URL)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("faktory-worker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := faktory.NewRegistry()
	if cfg.require != "" {
		if err := loadPlugin(cfg.require, registry); err != nil {
			return fmt.Errorf("loading --require plugin %s: %w", cfg.require, err)
		}
	}

	queues, err := parseQueueSpec(cfg.queues)
	if err != nil {
		return err
	}

	w, err := faktory.NewWorker(registry, nil, faktory.Config{
		Concurrency:   cfg.concurrency,
		Timeout:       time.Duration(cfg.timeout) * time.Second,
		Queues:        queues,
		Labels:        cfg.labels,
		Logger:        logger,
		ClientOptions: faktory.Options{URL: cfg.url},
	})
	if err != nil {
		return fmt.Errorf("building worker: %w", err)
	}

	logger.Info("starting faktory worker",
		zap.String("version", version),
		zap.String("wid", w.WID()),
		zap.Int("concurrency", cfg.concurrency),
	)

	if err := w.Work(ctx); err != nil {
		if err == faktory.ErrShutdownAborted {
			logger.Warn("shutdown timeout exceeded, remaining jobs were force-failed")
			os.Exit(1)
		}
		return err
	}

	logger.Info("faktory worker stopped")
	return nil
}

// parseQueueSpec builds a QueueSelector from repeated -q flags. Every
// occurrence must be either all bare names (ordered mode) or all
// name,weight pairs (weighted mode); mixing the two is a configuration
// error.
func parseQueueSpec(specs []string) (faktory.QueueSelector, error) {
	weighted := false
	ordered := false
	names := make([]string, 0, len(specs))
	weights := make(map[string]int, len(specs))

	for _, spec := range specs {
		parts := strings.SplitN(spec, ",", 2)
		if len(parts) == 1 {
			ordered = true
			names = append(names, parts[0])
			continue
		}
		weighted = true
		w, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid weight in queue spec %q: %w", spec, err)
		}
		weights[parts[0]] = w
	}

	if ordered && weighted {
		return nil, faktory.ErrMixedQueueSpec
	}
	if weighted {
		return faktory.NewWeightedQueues(weights), nil
	}
	return faktory.NewOrderedQueues(names...), nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

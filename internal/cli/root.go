// Package cli implements the memops CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/config"
	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/generation"
	"github.com/rcliao/memops/internal/metrics"
	"github.com/rcliao/memops/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string

	cfg    *config.Config
	logger = zap.NewNop()

	registry      = prometheus.NewRegistry()
	collectorOnce sync.Once
	collector     *metrics.Collector
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memops",
	Short: "Structured memory operations over a local store",
	Long: "memops executes typed memory operations (Encode, Label, Update, Promote, Demote, Merge, " +
		"Split, Lock, Expire, Delete, Retrieve, Summarize) against a SQLite-backed memory store.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMOPS_DB or ~/.memops/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MEMOPS_CONFIG or ~/.memops/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("MEMOPS_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memops", "config.yaml")
}

// setup loads the configuration and logger before any command runs.
// Flags override the file and environment.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.Database.Path = dbPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	l, err := c.Log.Logger()
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Database.Path, logger)
}

func metricsCollector() *metrics.Collector {
	collectorOnce.Do(func() {
		collector = metrics.NewCollector(registry, logger)
	})
	return collector
}

// newEngine builds an engine over s with the configured providers. The
// returned func releases provider resources.
func newEngine(s store.Store) (*engine.Engine, func(), error) {
	emb, err := embedding.New(cfg.EmbeddingOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("embedding provider: %w", err)
	}
	gen, err := generation.New(cfg.GenerationOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("generation provider: %w", err)
	}
	e, err := engine.New(engine.Options{
		Store:           s,
		Embedder:        emb,
		Generator:       gen,
		Resolver:        cfg.ResolverOptions(),
		ProviderTimeout: cfg.Search.ProviderTimeout,
		Metrics:         metricsCollector(),
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if c, ok := emb.(*embedding.Cached); ok {
			c.Close()
		}
	}
	return e, release, nil
}

// withEngine opens the store and an engine for the duration of fn.
func withEngine(fn func(s *store.SQLiteStore, e *engine.Engine)) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	e, release, err := newEngine(s)
	if err != nil {
		exitErr("engine", err)
	}
	defer release()
	fn(s, e)
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// printEnvelope writes env and exits non-zero when it reports a failure.
func printEnvelope(cmd *cobra.Command, env *engine.Envelope) {
	printJSON(cmd, env)
	if !env.Success {
		_ = logger.Sync()
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	_ = logger.Sync()
	os.Exit(1)
}

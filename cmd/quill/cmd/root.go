package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/query"
	"github.com/quillchat/quill/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Message narrowing and fetch engine",
	Long: `quill stores chat messages and serves bounded, anchored windows of
them, filtered by narrow expressions (channel, topic, sender, full-text
search, and more).

The engine compiles narrows into SQL against a local SQLite database and
exposes the fetch operation over an HTTP API and this CLI.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openEngine opens the store and builds a fetch engine over it. The caller
// owns the returned store and must close it.
func openEngine() (*store.Store, *query.Engine, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, buildEngine(s), nil
}

// buildEngine wires the configured fetch engine over an open store. Callers
// that initialize the schema must do so first: the search-backend probe pins
// the backend for the process lifetime.
func buildEngine(s *store.Store) *query.Engine {
	backend := cfg.Engine.SearchBackend
	if backend == query.BackendFTS && !s.FTS5Available() {
		// InitSchema hasn't run in this process; probe the index directly.
		var n int64
		if probeErr := s.DB().QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE name = 'messages_fts'").Scan(&n); probeErr == nil && n == 0 {
			logger.Warn("fts index missing, falling back to plain search backend")
			backend = query.BackendPlain
		}
	}

	dirs := store.NewDirectory(s).Directories()
	return query.NewEngine(s.DB(), dirs, logger, query.Options{
		SearchBackend: backend,
		MirrorMode:    cfg.Engine.MirrorMode,
		MaxFetch:      cfg.Engine.MaxFetch,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.quill/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

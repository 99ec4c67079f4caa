package cmd

import (
	"fmt"

	"github.com/quillchat/quill/internal/store"
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the quill database with the required schema.

This command creates all tables for realms, users, channels, messages,
deliveries, and the full-text index. It is safe to run multiple times -
tables are only created if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		if !s.FTS5Available() {
			logger.Warn("FTS5 unavailable; search will use the plain backend")
		}

		logger.Info("database initialized successfully")

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Realms:     %d\n", stats.RealmCount)
		fmt.Printf("  Users:      %d\n", stats.UserCount)
		fmt.Printf("  Channels:   %d\n", stats.ChannelCount)
		fmt.Printf("  Messages:   %d\n", stats.MessageCount)
		fmt.Printf("  Deliveries: %d\n", stats.DeliveryRows)
		fmt.Printf("  Size:       %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

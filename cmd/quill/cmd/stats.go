package cmd

import (
	"fmt"

	"github.com/quillchat/quill/internal/store"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
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
	rootCmd.AddCommand(statsCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rafappelt/crypto-dashboard/internal/app"
)

var (
	showPair    string
	showLimit   int
	showArchive bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent hourly averages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Pair:    showPair,
			Limit:   showLimit,
			Archive: showArchive,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showPair, "pair", "", "Only show this pair (e.g. ETH/USDC); defaults to every configured pair")
	showCmd.Flags().IntVar(&showLimit, "limit", 24, "Number of hours to display per pair")
	showCmd.Flags().BoolVar(&showArchive, "archive", false, "Read from the PostgreSQL archive instead of the data directory")
}

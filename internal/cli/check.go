package cli

import (
	"github.com/spf13/cobra"
)

var checkFeedCmd = &cobra.Command{
	Use:   "check-feed",
	Short: "Validate the feed API key against the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckFeed(cmd.Context())
	},
}

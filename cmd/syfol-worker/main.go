package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syfol-worker",
	Short: "Follow and unfollow Twitter accounts found by a search",
	Long: `syfol-worker periodically unfollows accounts followed for longer than
FOLLOW_PERIOD and follows new accounts found by SEARCH_QUERY, up to
FOLLOWER_LIMIT active follows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(newStartCmd())
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

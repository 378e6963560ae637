package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/feed"
	"bilicrawl/pkg/logger"
)

var (
	// Feed command flags
	feedDir     string
	feedAccount string
)

// feedCmd represents the feed command
var feedCmd = &cobra.Command{
	Use:   "feed <mid>",
	Short: "Scan a user's activity feed into a task file",
	Long: `Walk a user's dynamic feed and write the comment targets of every
supported dynamic into a task CSV, ready for the batch command.

The mid is the numeric user id from the space.bilibili.com URL.`,
	Example: `  # Build ./user/396371.csv from the user's feed
  bilicrawl feed 396371

  # Then crawl everything it found
  bilicrawl batch`,
	Args: cobra.ExactArgs(1),
	Run:  runFeed,
}

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().StringVar(&feedDir, "dir", "", "directory for the task CSV (default: configured task directory)")
	feedCmd.Flags().StringVarP(&feedAccount, "account", "a", "", "use specific stored account")
}

func runFeed(cmd *cobra.Command, args []string) {
	mid := args[0]
	if _, err := strconv.ParseInt(mid, 10, 64); err != nil {
		fmt.Fprintf(os.Stderr, "invalid mid %q: expected the numeric user id\n", mid)
		os.Exit(1)
	}

	cfg := loadConfig(map[string]interface{}{})
	resolveCredentials(cfg, feedAccount)

	dir := feedDir
	if dir == "" {
		dir = cfg.Output.TaskDirectory
	}

	log := logger.GetLogger()
	client := bilibili.NewClient(cfg, buildLimiter(cfg), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	count, path, err := feed.NewCollector(client, log).Collect(ctx, mid, dir)
	if err != nil {
		logger.WithError(err).WithField("mid", mid).Error("feed scan failed")
		fmt.Fprintln(os.Stderr, "feed scan failed:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d targets to %s\n", count, path)
}

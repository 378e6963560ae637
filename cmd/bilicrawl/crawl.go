package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/config"
	"bilicrawl/pkg/crawler"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/progress"
)

var (
	// Crawl command flags
	crawlType    string
	crawlOutput  string
	crawlStart   int64
	crawlEnd     int64
	crawlPS      int
	crawlAccount string
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <target>",
	Short: "Collect the full comment tree of a single video or dynamic",
	Long: `Collect all root comments and their replies for one target into
CSV files under the output directory.

The target may be a BV id, an av number, an oid:type pair, or a bare
oid combined with --type. A dynamic's comment oid is its id_str; image
dynamics use comment type 11 and text reposts type 17.

Progress is recorded page by page, so an interrupted crawl resumes
where it stopped when run again with the same target.`,
	Example: `  # Crawl a video by BV id
  bilicrawl crawl BV1xx411c7mD

  # Crawl a video by av number
  bilicrawl crawl av170001

  # Crawl an image dynamic
  bilicrawl crawl 123456789 --type image

  # Crawl pages 10-50 only
  bilicrawl crawl BV1xx411c7mD --start 10 --end 50`,
	Args: cobra.ExactArgs(1),
	Run:  runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&crawlType, "type", "t", "video", "comment type (video, image, repost, or numeric)")
	crawlCmd.Flags().StringVarP(&crawlOutput, "output", "o", "", "output directory for comment CSVs")
	crawlCmd.Flags().Int64Var(&crawlStart, "start", 0, "first root page to fetch")
	crawlCmd.Flags().Int64Var(&crawlEnd, "end", 0, "last root page to fetch")
	crawlCmd.Flags().IntVar(&crawlPS, "page-size", 0, "comments per page (1-20)")
	crawlCmd.Flags().StringVarP(&crawlAccount, "account", "a", "", "use specific stored account")
}

func runCrawl(cmd *cobra.Command, args []string) {
	flags := map[string]interface{}{
		"output":    crawlOutput,
		"page-size": crawlPS,
		"start":     crawlStart,
		"end":       crawlEnd,
	}
	cfg := loadConfig(flags)
	resolveCredentials(cfg, crawlAccount)

	target, err := parseTarget(args[0], crawlType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid target:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := runPipeline(ctx, cfg, target)
	switch result.Status {
	case crawler.StatusCompleted, crawler.StatusPartial, crawler.StatusSkipped:
		if result.Status == crawler.StatusPartial {
			fmt.Println("crawl interrupted, run the same command again to resume")
		}
	default:
		logger.WithError(result.Err).WithField("target", target.Key()).Error("crawl failed")
		fmt.Fprintln(os.Stderr, "crawl failed:", result.Err)
		os.Exit(1)
	}
}

// newPipeline wires the client and progress tracker into a pipeline.
// The returned cleanup closes the tracker.
func newPipeline(cfg *config.Config) (*crawler.Pipeline, func(), error) {
	log := logger.GetLogger()
	client := bilibili.NewClient(cfg, buildLimiter(cfg), log)
	tracker, err := progress.NewTracker(cfg.Output.ProgressFile, log)
	if err != nil {
		return nil, nil, err
	}
	pipeline := crawler.NewPipeline(client, tracker, cfg, log)
	return pipeline, func() { tracker.Close() }, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, target bilibili.Target) *crawler.Result {
	pipeline, cleanup, err := newPipeline(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open progress file:", err)
		os.Exit(1)
	}
	defer cleanup()

	return pipeline.Run(ctx, target)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/crawler"
	"bilicrawl/pkg/logger"
)

var (
	// Batch command flags
	batchTasks   string
	batchOutput  string
	batchAccount string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Crawl every target listed in the task files",
	Long: `Crawl all targets from a task CSV file or a directory of task CSVs.

Task files have two columns, comment oid and comment type, one target
per row. The feed command produces files in this format.

Targets are crawled strictly one after another. A transient failure
marks the target partial and the batch continues; a credential failure
stops the batch since every remaining target would fail the same way.`,
	Example: `  # Crawl everything under the task directory
  bilicrawl batch

  # Crawl a single task file
  bilicrawl batch --tasks ./user/396371.csv`,
	Args: cobra.NoArgs,
	Run:  runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&batchTasks, "tasks", "", "task CSV file or directory (default: configured task directory)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output directory for comment CSVs")
	batchCmd.Flags().StringVarP(&batchAccount, "account", "a", "", "use specific stored account")
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig(map[string]interface{}{"output": batchOutput})
	resolveCredentials(cfg, batchAccount)

	tasks := batchTasks
	if tasks == "" {
		tasks = cfg.Output.TaskDirectory
	}

	log := logger.GetLogger()
	targets, err := crawler.LoadTargets(tasks, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load task files:", err)
		os.Exit(1)
	}

	pipeline, cleanup, err := newPipeline(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open progress file:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := crawler.NewRunner(pipeline, log).Run(ctx, targets)

	fmt.Printf("batch finished: %d completed, %d partial, %d failed, %d skipped, %d unattempted\n",
		summary.Count(crawler.StatusCompleted),
		summary.Count(crawler.StatusPartial),
		summary.Count(crawler.StatusFailed),
		summary.Count(crawler.StatusSkipped),
		len(summary.Unattempted))

	if summary.Aborted() {
		fmt.Fprintln(os.Stderr, "batch stopped early, fix credentials and run again to resume")
	}
	if !summary.OK() {
		os.Exit(1)
	}
}

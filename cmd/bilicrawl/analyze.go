package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/analyze"
	"bilicrawl/pkg/logger"
)

var analyzeOutput string

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <csv>",
	Short: "Render an HTML chart report from a comment CSV",
	Long: `Analyze a collected comment CSV offline and render a single HTML
page with distribution charts: gender, user level, IP region, hourly
activity and the most active commenters.

Works best on the merged *_all.csv stream since it covers both root
comments and replies.`,
	Example: `  bilicrawl analyze ./comments/myvideo_all.csv
  bilicrawl analyze ./comments/myvideo_all.csv -o report.html`,
	Args: cobra.ExactArgs(1),
	Run:  runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "path of the HTML report (default: <csv>.html)")
}

func runAnalyze(cmd *cobra.Command, args []string) {
	csvPath := args[0]
	htmlPath := analyzeOutput
	if htmlPath == "" {
		htmlPath = strings.TrimSuffix(csvPath, ".csv") + ".html"
	}

	if err := analyze.New(logger.GetLogger()).WriteReport(csvPath, htmlPath); err != nil {
		fmt.Fprintln(os.Stderr, "analysis failed:", err)
		os.Exit(1)
	}
	fmt.Println("report written to", htmlPath)
}

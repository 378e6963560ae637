package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bilicrawl/pkg/bvid"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <id>...",
	Short: "Convert between BV ids and av numbers",
	Long: `Convert video identifiers between the BV and av formats.

BV ids are converted to their av number and av numbers (with or
without the av prefix) to their BV id.`,
	Example: `  bilicrawl convert BV1xx411c7mD
  bilicrawl convert av170001 2
  bilicrawl convert BV1xx411c7mD av170001`,
	Args: cobra.MinimumNArgs(1),
	Run:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) {
	failed := false
	for _, arg := range args {
		out, err := convertID(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			failed = true
			continue
		}
		fmt.Printf("%s\t%s\n", arg, out)
	}
	if failed {
		os.Exit(1)
	}
}

func convertID(arg string) (string, error) {
	arg = strings.TrimSpace(arg)

	if bvid.IsValid(arg) {
		aid, err := bvid.Decode(arg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("av%d", aid), nil
	}

	digits := strings.TrimPrefix(strings.ToLower(arg), "av")
	aid, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", fmt.Errorf("not a BV id or av number")
	}
	return bvid.Encode(aid)
}

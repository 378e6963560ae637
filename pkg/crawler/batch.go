package crawler

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/logger"
)

// Summary reports a batch run: one Result per attempted target, plus
// the targets never reached because a fatal failure halted the run.
type Summary struct {
	Results     []*Result
	Unattempted []bilibili.Target
}

// Aborted reports whether a fatal failure halted the batch.
func (s *Summary) Aborted() bool {
	for _, r := range s.Results {
		if r.Status == StatusAborted {
			return true
		}
	}
	return false
}

// OK reports whether the run should exit zero. Partial targets have
// recorded progress and resume on the next run, so they do not fail
// the batch; aborted and failed targets do.
func (s *Summary) OK() bool {
	for _, r := range s.Results {
		if r.Status == StatusAborted || r.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Count returns how many attempted targets finished with the status.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Runner executes targets strictly sequentially in the order given.
// Transient per-target failures are logged and the run moves on; a
// fatal failure halts everything, since it would recur on every
// remaining target.
type Runner struct {
	pipeline *Pipeline
	logger   logger.Logger
}

// NewRunner creates a batch runner around a pipeline.
func NewRunner(pipeline *Pipeline, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{pipeline: pipeline, logger: log}
}

// Run processes the targets one at a time. Re-running with the same
// inputs is idempotent: completed targets are skipped via the progress
// record and interrupted ones resume where they left off.
func (r *Runner) Run(ctx context.Context, targets []bilibili.Target) *Summary {
	summary := &Summary{}

	for i, target := range targets {
		r.logger.InfoWithFields("batch target", map[string]interface{}{
			"index":  i + 1,
			"total":  len(targets),
			"target": target.Key(),
		})

		res := r.pipeline.Run(ctx, target)
		summary.Results = append(summary.Results, res)

		if res.Status == StatusAborted {
			summary.Unattempted = append(summary.Unattempted, targets[i+1:]...)
			r.logger.ErrorWithFields("halting batch after fatal failure", map[string]interface{}{
				"target":      target.Key(),
				"error":       res.Err.Error(),
				"unattempted": len(summary.Unattempted),
			})
			break
		}

		if ctx.Err() != nil {
			summary.Unattempted = append(summary.Unattempted, targets[i+1:]...)
			break
		}
	}

	r.logger.InfoWithFields("batch finished", map[string]interface{}{
		"completed":   summary.Count(StatusCompleted),
		"partial":     summary.Count(StatusPartial),
		"failed":      summary.Count(StatusFailed),
		"skipped":     summary.Count(StatusSkipped),
		"unattempted": len(summary.Unattempted),
	})

	return summary
}

// LoadTargets reads crawl targets from task CSVs with rows of
// (comment id, comment type). Path may be one CSV file or a directory
// of them; files are read in name order, rows in file order. Malformed
// rows are skipped with a warning.
func LoadTargets(path string, log logger.Logger) ([]bilibili.Target, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task path: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to list task directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no task files in %s", path)
		}
	} else {
		files = []string{path}
	}

	var targets []bilibili.Target
	for _, file := range files {
		fileTargets, err := loadTaskFile(file, log)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fileTargets...)
	}

	return targets, nil
}

func loadTaskFile(path string, log logger.Logger) ([]bilibili.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	content := strings.TrimPrefix(string(data), "\xEF\xBB\xBF")
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	var targets []bilibili.Target
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		oid := strings.TrimSpace(row[0])
		rawType := strings.TrimSpace(row[1])

		// header row
		if i == 0 && !isNumeric(rawType) {
			continue
		}

		typeVal, err := strconv.ParseInt(rawType, 10, 64)
		if err != nil {
			log.WarnWithFields("skipping malformed task row", map[string]interface{}{
				"file": path,
				"row":  i + 1,
			})
			continue
		}
		typ, err := bilibili.ParseCommentType(typeVal)
		if err != nil {
			log.WarnWithFields("skipping task row with unsupported comment type", map[string]interface{}{
				"file": path,
				"row":  i + 1,
				"type": typeVal,
			})
			continue
		}
		if oid == "" {
			continue
		}

		targets = append(targets, bilibili.Target{OID: oid, Type: typ})
	}

	return targets, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

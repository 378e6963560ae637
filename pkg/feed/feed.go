package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/logger"
)

// taskHeaders is the column layout of the task CSVs consumed by batch
// mode.
var taskHeaders = []string{"comment_id_str", "comment_type"}

// API is the client surface the collector needs.
type API interface {
	FetchSpaceFeed(ctx context.Context, mid, offset string) (*bilibili.SpaceFeed, error)
}

// Collector pages through a user's space feed and turns each post into
// a crawl target row. The output file feeds the batch runner.
type Collector struct {
	api    API
	logger logger.Logger
}

// NewCollector creates a feed collector.
func NewCollector(api API, log logger.Logger) *Collector {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Collector{api: api, logger: log}
}

// Collect walks the feed of user mid until the API reports no more
// pages and writes the task CSV to dir/<mid>.csv. It returns the
// number of targets written and the output path.
func (c *Collector) Collect(ctx context.Context, mid, dir string) (int, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, "", fmt.Errorf("failed to create task directory: %w", err)
	}

	path := filepath.Join(dir, mid+".csv")
	file, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create task file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(taskHeaders); err != nil {
		return 0, "", fmt.Errorf("failed to write task header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, "", fmt.Errorf("failed to write task header: %w", err)
	}

	total := 0
	offset := ""
	page := 1
	for {
		feed, err := c.api.FetchSpaceFeed(ctx, mid, offset)
		if err != nil {
			return total, path, fmt.Errorf("feed page %d: %w", page, err)
		}

		written, err := c.writeItems(w, feed.Items)
		if err != nil {
			return total, path, err
		}
		total += written
		w.Flush()

		c.logger.InfoWithFields("feed page collected", map[string]interface{}{
			"mid":     mid,
			"page":    page,
			"targets": written,
		})

		if !feed.HasMore || feed.Offset == "" {
			break
		}
		offset = feed.Offset
		page++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return total, path, fmt.Errorf("failed to flush task file: %w", err)
	}

	return total, path, nil
}

// writeItems appends one task row per feed item, skipping posts whose
// comment area type the pipeline does not support.
func (c *Collector) writeItems(w *csv.Writer, items []bilibili.FeedItem) (int, error) {
	written := 0
	for _, item := range items {
		id := item.Basic.CommentIDStr
		if id == "" || item.Basic.CommentType == 0 {
			continue
		}

		typ, err := bilibili.ParseCommentType(item.Basic.CommentType)
		if err != nil {
			c.logger.WarnWithFields("skipping post with unsupported comment type", map[string]interface{}{
				"comment_id": id,
				"type":       item.Basic.CommentType,
			})
			continue
		}

		if err := w.Write([]string{id, fmt.Sprintf("%d", int(typ))}); err != nil {
			return written, fmt.Errorf("failed to write task row: %w", err)
		}
		written++
	}
	return written, nil
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/bvid"
	"bilicrawl/pkg/config"
	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/progress"
	"bilicrawl/pkg/storage"
)

// Status is the outcome of one target.
type Status string

const (
	// StatusCompleted means every page up to the end of the comment
	// area (or the configured end page) was collected.
	StatusCompleted Status = "completed"
	// StatusPartial means a transient failure interrupted the target;
	// progress is recorded and a later run resumes it.
	StatusPartial Status = "partial"
	// StatusFailed means a local, non-resumable failure (bad
	// identifier, disk error).
	StatusFailed Status = "failed"
	// StatusSkipped means the progress record already covers the
	// configured page range.
	StatusSkipped Status = "skipped"
	// StatusAborted means a fatal failure (rejected credentials,
	// malformed payload) that would recur for every target.
	StatusAborted Status = "aborted"
)

// Result summarizes one target's run.
type Result struct {
	Target  bilibili.Target
	Status  Status
	Roots   int
	Replies int
	Err     error
}

// Pipeline walks one target's two-level comment tree page by page,
// writing records through a storage.Writer and recording completed
// root pages in the progress tracker. Strictly sequential: one request
// in flight at any time.
type Pipeline struct {
	api     API
	tracker *progress.Tracker
	cfg     *config.Config
	logger  logger.Logger
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(api API, tracker *progress.Tracker, cfg *config.Config, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pipeline{api: api, tracker: tracker, cfg: cfg, logger: log}
}

// Run collects the target's comment area. The returned Result is
// never nil; its Err field carries the terminating error for partial,
// failed and aborted outcomes.
func (p *Pipeline) Run(ctx context.Context, target bilibili.Target) *Result {
	res := &Result{Target: target, Status: StatusFailed}

	if !target.Type.Valid() {
		res.Err = errs.New(errs.ErrorTypeInvalidID, 0, "unsupported comment type %d", int(target.Type))
		return res
	}
	if _, err := strconv.ParseInt(target.OID, 10, 64); err != nil {
		res.Err = errs.New(errs.ErrorTypeInvalidID, 0, "oid %q is not numeric", target.OID)
		return res
	}

	if p.tracker.IsDone(target) {
		p.logger.InfoWithFields("target already collected", map[string]interface{}{
			"target": target.Key(),
		})
		res.Status = StatusSkipped
		return res
	}

	startPage := p.cfg.Crawl.StartPage
	if startPage < 1 {
		startPage = 1
	}
	endPage := p.cfg.Crawl.EndPage

	resume := p.tracker.Resume(target, startPage)
	cursor := resume + 1
	if cursor > endPage {
		p.logger.InfoWithFields("target already collected", map[string]interface{}{
			"target": target.Key(),
		})
		res.Status = StatusSkipped
		return res
	}

	baseName, err := p.resolveBaseName(ctx, target)
	if err != nil {
		res.Err = err
		return res
	}

	var writer *storage.Writer
	if resume >= startPage {
		writer, err = storage.OpenWriter(p.cfg.Output.BaseDirectory, baseName, p.cfg.Output.ExcelSafeIDs)
	} else {
		writer, err = storage.NewWriter(p.cfg.Output.BaseDirectory, baseName, p.cfg.Output.ExcelSafeIDs)
	}
	if err != nil {
		res.Err = fmt.Errorf("failed to open output streams: %w", err)
		return res
	}

	p.logger.InfoWithFields("collecting target", map[string]interface{}{
		"target":     target.Key(),
		"base_name":  baseName,
		"start_page": cursor,
		"end_page":   endPage,
	})

	seen := progress.NewSeenSet()
	runErr := p.collect(ctx, target, writer, seen, res, cursor, endPage)

	if closeErr := writer.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finalize output streams: %w", closeErr)
	}

	res.Err = runErr
	res.Status = classify(runErr)
	logger.LogTargetSummary(target.OID, string(res.Status), res.Roots, res.Replies)
	return res
}

// collect pages through root comments from cursor to endPage.
func (p *Pipeline) collect(ctx context.Context, target bilibili.Target, w *storage.Writer,
	seen *progress.SeenSet, res *Result, cursor, endPage int64) error {

	for ; cursor <= endPage; cursor++ {
		if p.tracker.IsPageDone(target, cursor) {
			continue
		}

		page, err := p.api.FetchRootPage(ctx, target, cursor)
		if err != nil {
			return fmt.Errorf("root page %d: %w", cursor, err)
		}

		// Pinned comments ride along on the first page only and are
		// emitted before anything else, each with its replies.
		if cursor == 1 {
			for _, pin := range page.TopReplies {
				if err := p.emitRootBlock(ctx, target, w, seen, res, pin, true); err != nil {
					return err
				}
			}
		}

		if len(page.Replies) == 0 {
			p.logger.InfoWithFields("no more root comments", map[string]interface{}{
				"target": target.Key(),
				"cursor": cursor,
			})
			if err := p.tracker.MarkPageDone(target, cursor); err != nil {
				return err
			}
			return p.tracker.MarkDone(target)
		}

		for _, root := range page.Replies {
			if err := p.emitRootBlock(ctx, target, w, seen, res, root, false); err != nil {
				return err
			}
		}

		if err := p.tracker.MarkPageDone(target, cursor); err != nil {
			return err
		}

		if page.Cursor.IsEnd {
			return p.tracker.MarkDone(target)
		}
		// Guard against a non-advancing endpoint: if the reported
		// cursor does not move past the one we just requested, a
		// further request would loop on the same page forever.
		if page.Cursor.Next != 0 && page.Cursor.Next <= cursor {
			p.logger.WarnWithFields("endpoint cursor stopped advancing", map[string]interface{}{
				"target": target.Key(),
				"cursor": cursor,
				"next":   page.Cursor.Next,
			})
			return nil
		}
	}

	return nil
}

// emitRootBlock writes one root comment followed by all of its nested
// replies, forming a contiguous block in the merged stream. Roots that
// were already emitted (a pinned comment repeated in the normal list,
// or page overlap after resume) are skipped whole.
func (p *Pipeline) emitRootBlock(ctx context.Context, target bilibili.Target, w *storage.Writer,
	seen *progress.SeenSet, res *Result, root *bilibili.Reply, pinned bool) error {

	if seen.Seen(root.Rpid) {
		return nil
	}

	if err := w.WriteRecord(newRecord(root, 0, pinned)); err != nil {
		return fmt.Errorf("failed to write root %d: %w", root.Rpid, err)
	}
	res.Roots++

	if root.Rcount == 0 {
		return nil
	}

	ps := int64(p.api.PageSize())
	// Rcount caps the number of sub-pages so an endpoint that keeps
	// returning full pages of fresh replies cannot spin forever.
	maxPages := (root.Rcount + ps - 1) / ps
	for rp := int64(1); rp <= maxPages; rp++ {
		page, err := p.api.FetchReplyPage(ctx, target, root.Rpid, rp)
		if err != nil {
			return fmt.Errorf("replies of %d page %d: %w", root.Rpid, rp, err)
		}
		if len(page.Replies) == 0 {
			return nil
		}

		for _, reply := range page.Replies {
			if seen.Seen(reply.Rpid) {
				continue
			}
			if reply.Root != 0 && reply.Root != root.Rpid {
				p.logger.WarnWithFields("orphan reply: root does not match requested thread", map[string]interface{}{
					"target": target.Key(),
					"rpid":   reply.Rpid,
					"root":   reply.Root,
					"thread": root.Rpid,
				})
			}

			parent := reply.Parent
			if parent == 0 {
				parent = root.Rpid
			}
			if err := w.WriteRecord(newRecord(reply, parent, false)); err != nil {
				return fmt.Errorf("failed to write reply %d: %w", reply.Rpid, err)
			}
			res.Replies++
		}

		if page.Page.Count > 0 && rp*ps >= page.Page.Count {
			return nil
		}
		if int64(len(page.Replies)) < ps {
			return nil
		}
	}
	return nil
}

// resolveBaseName picks the output file base name and pins it in the
// name index, so a resumed run keeps appending to the same files even
// when the title lookup that named them originally fails this time.
func (p *Pipeline) resolveBaseName(ctx context.Context, target bilibili.Target) (string, error) {
	idx, err := storage.OpenNameIndex(p.cfg.Output.BaseDirectory)
	if err != nil {
		return "", fmt.Errorf("failed to open name index: %w", err)
	}
	if base, ok := idx.Lookup(target.Key()); ok {
		return base, nil
	}

	base := p.baseName(ctx, target)
	if err := idx.Record(target.Key(), base); err != nil {
		return "", err
	}
	return base, nil
}

// baseName picks the output file base name. Video targets use the
// video title when it can be resolved; failures fall back to a name
// derived from the oid rather than blocking the collection.
func (p *Pipeline) baseName(ctx context.Context, target bilibili.Target) string {
	if target.Type != bilibili.CommentTypeVideo {
		return "dynamic_" + target.OID
	}

	aid, err := strconv.ParseInt(target.OID, 10, 64)
	if err == nil {
		if bv, encErr := bvid.Encode(aid); encErr == nil {
			view, viewErr := p.api.FetchVideoView(ctx, bv)
			if viewErr == nil && view.Title != "" {
				return storage.CleanFilename(view.Title)
			}
			if viewErr != nil {
				p.logger.WarnWithFields("could not resolve video title", map[string]interface{}{
					"bvid":  bv,
					"error": viewErr.Error(),
				})
			}
		}
	}
	return "video_" + target.OID
}

func newRecord(r *bilibili.Reply, parent int64, pinned bool) *storage.Record {
	return &storage.Record{
		Nickname: r.Member.Uname,
		Gender:   r.Member.Sex,
		Ctime:    r.Ctime,
		Likes:    r.Like,
		Message:  strings.ReplaceAll(r.Content.Message, "\n", ","),
		Location: r.Location(),
		Level:    r.Member.LevelInfo.CurrentLevel,
		UID:      r.Member.Mid,
		Rpid:     r.Rpid,
		Parent:   parent,
		Pinned:   pinned,
	}
}

// classify maps a terminating error to the target outcome.
func classify(err error) Status {
	if err == nil {
		return StatusCompleted
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		switch {
		case errs.IsFatal(apiErr.Type):
			return StatusAborted
		case errs.IsTransient(apiErr.Type):
			return StatusPartial
		case apiErr.Type == errs.ErrorTypeInvalidID:
			return StatusFailed
		default:
			return StatusPartial
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusPartial
	}

	return StatusFailed
}

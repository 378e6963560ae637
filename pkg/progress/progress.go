package progress

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/logger"
)

// Tracker persists which root pages of which targets have been fully
// collected. The record is a plain append-only text file, one line per
// completed page:
//
//	oid<TAB>type<TAB>cursor
//
// When a target's root paging terminates naturally the third field is
// the sentinel "done" instead of a cursor, and later runs skip the
// target without fetching anything.
//
// A page line is written and fsynced only after every reply sub-page
// of every root on that page has been fetched, so a crash at any point
// leaves a valid prefix and the worst case on restart is re-fetching
// one page. Cursors per target only ever grow.
type Tracker struct {
	path     string
	file     *os.File
	done     map[string]map[int64]bool
	complete map[string]bool
	logger   logger.Logger
}

// NewTracker opens (or creates) the progress record at path and loads
// any existing entries.
func NewTracker(path string, log logger.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create progress directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress record: %w", err)
	}

	t := &Tracker{
		path:     path,
		file:     file,
		done:     make(map[string]map[int64]bool),
		complete: make(map[string]bool),
		logger:   log,
	}

	if err := t.load(); err != nil {
		file.Close()
		return nil, err
	}

	return t, nil
}

// load replays the record into memory. Malformed lines (a torn final
// write after a crash) are skipped with a warning.
func (t *Tracker) load() error {
	if _, err := t.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind progress record: %w", err)
	}

	scanner := bufio.NewScanner(t.file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			t.logger.WarnWithFields("skipping malformed progress line", map[string]interface{}{
				"path": t.path,
				"line": lineNo,
			})
			continue
		}

		typ, err1 := strconv.ParseInt(fields[1], 10, 64)
		if err1 == nil && fields[2] == doneSentinel {
			t.complete[fields[0]+":"+strconv.FormatInt(typ, 10)] = true
			continue
		}
		cursor, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil || cursor < 1 {
			t.logger.WarnWithFields("skipping malformed progress line", map[string]interface{}{
				"path": t.path,
				"line": lineNo,
			})
			continue
		}

		key := fields[0] + ":" + strconv.FormatInt(typ, 10)
		if t.done[key] == nil {
			t.done[key] = make(map[int64]bool)
		}
		t.done[key][cursor] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read progress record: %w", err)
	}

	// Leave the handle positioned for appends.
	size, err := t.file.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("failed to seek progress record: %w", err)
	}

	// A torn final write leaves the file without a trailing newline.
	// Terminate it so the next append starts on its own line.
	if size > 0 {
		buf := make([]byte, 1)
		if _, err := t.file.ReadAt(buf, size-1); err != nil {
			return fmt.Errorf("failed to inspect progress record: %w", err)
		}
		if buf[0] != '\n' {
			if _, err := t.file.WriteString("\n"); err != nil {
				return fmt.Errorf("failed to repair progress record: %w", err)
			}
		}
	}

	return nil
}

// MarkPageDone appends a completed-page entry and syncs it to disk
// before returning. Only after it returns may the pipeline advance.
func (t *Tracker) MarkPageDone(target bilibili.Target, cursor int64) error {
	key := target.Key()
	if t.done[key][cursor] {
		return nil
	}

	line := fmt.Sprintf("%s\t%d\t%d\n", target.OID, int(target.Type), cursor)
	if _, err := t.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync progress record: %w", err)
	}

	if t.done[key] == nil {
		t.done[key] = make(map[int64]bool)
	}
	t.done[key][cursor] = true

	return nil
}

// IsPageDone reports whether a page was completed in this or any
// previous run.
func (t *Tracker) IsPageDone(target bilibili.Target, cursor int64) bool {
	return t.done[target.Key()][cursor]
}

const doneSentinel = "done"

// MarkDone appends the completion sentinel for a target and syncs it
// to disk. Written once root paging terminates naturally, so later
// runs can skip the target entirely.
func (t *Tracker) MarkDone(target bilibili.Target) error {
	key := target.Key()
	if t.complete[key] {
		return nil
	}

	line := fmt.Sprintf("%s\t%d\t%s\n", target.OID, int(target.Type), doneSentinel)
	if _, err := t.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync progress record: %w", err)
	}

	t.complete[key] = true

	return nil
}

// IsDone reports whether the target was fully collected in this or
// any previous run.
func (t *Tracker) IsDone(target bilibili.Target) bool {
	return t.complete[target.Key()]
}

// Resume returns the highest cursor C such that every page from
// startPage through C is recorded done, or startPage-1 when no
// contiguous prefix exists. The caller resumes at the page after it.
func (t *Tracker) Resume(target bilibili.Target, startPage int64) int64 {
	pages := t.done[target.Key()]
	cursor := startPage - 1
	for pages[cursor+1] {
		cursor++
	}
	return cursor
}

// Close releases the underlying file handle.
func (t *Tracker) Close() error {
	return t.file.Close()
}

// Path returns the location of the progress record.
func (t *Tracker) Path() string {
	return t.path
}

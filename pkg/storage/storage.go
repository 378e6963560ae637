package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// utf8BOM makes spreadsheet tools detect the encoding of the CSV
// output, which matters for the Chinese column headers and content.
const utf8BOM = "\xEF\xBB\xBF"

// Headers is the column layout of every comment CSV stream.
var Headers = []string{"昵称", "性别", "时间", "点赞", "评论", "IP属地", "等级", "uid", "rpid", "父rpid", "置顶"}

// cst is the timezone comment timestamps are rendered in.
var cst = time.FixedZone("CST", 8*60*60)

// Record is one flattened comment row. Parent is 0 for root comments.
type Record struct {
	Nickname string
	Gender   string
	Ctime    int64
	Likes    int64
	Message  string
	Location string
	Level    int
	UID      int64
	Rpid     int64
	Parent   int64
	Pinned   bool
}

// IsRoot reports whether the record is a root comment.
func (r *Record) IsRoot() bool {
	return r.Parent == 0
}

// FormatTimestamp renders a unix timestamp in the platform's home
// timezone.
func FormatTimestamp(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).In(cst).Format("2006-01-02 15:04:05")
}

// CleanFilename strips characters that are invalid in file names.
func CleanFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

type stream struct {
	file *os.File
	csv  *csv.Writer
}

func newStream(path string, appendMode bool) (*stream, error) {
	if appendMode {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open output file: %w", err)
			}
			return &stream{file: file, csv: csv.NewWriter(file)}, nil
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := file.WriteString(utf8BOM); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write BOM: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(Headers); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	return &stream{file: file, csv: w}, nil
}

func (s *stream) write(row []string) error {
	return s.csv.Write(row)
}

func (s *stream) close() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Writer fans comment records out into three CSV streams per target:
// roots only, replies only, and everything merged in emission order.
type Writer struct {
	dir       string
	baseName  string
	excelSafe bool

	roots   *stream
	replies *stream
	merged  *stream
}

// NewWriter creates the output directory and the three stream files,
// truncating any previous output for the same base name. With
// excelSafe set, numeric id columns are written so spreadsheets keep
// them as text instead of mangling them into floats.
func NewWriter(dir, baseName string, excelSafe bool) (*Writer, error) {
	return newWriter(dir, baseName, excelSafe, false)
}

// OpenWriter is like NewWriter but appends to existing stream files
// instead of truncating them, for runs resuming an interrupted target.
func OpenWriter(dir, baseName string, excelSafe bool) (*Writer, error) {
	return newWriter(dir, baseName, excelSafe, true)
}

func newWriter(dir, baseName string, excelSafe bool, appendMode bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	baseName = CleanFilename(baseName)

	w := &Writer{dir: dir, baseName: baseName, excelSafe: excelSafe}

	var err error
	if w.roots, err = newStream(filepath.Join(dir, baseName+"_roots.csv"), appendMode); err != nil {
		return nil, err
	}
	if w.replies, err = newStream(filepath.Join(dir, baseName+"_replies.csv"), appendMode); err != nil {
		w.roots.close()
		return nil, err
	}
	if w.merged, err = newStream(filepath.Join(dir, baseName+"_all.csv"), appendMode); err != nil {
		w.roots.close()
		w.replies.close()
		return nil, err
	}

	return w, nil
}

// WriteRecord appends the record to the merged stream and to the
// stream of its kind.
func (w *Writer) WriteRecord(rec *Record) error {
	row := w.row(rec)

	if err := w.merged.write(row); err != nil {
		return fmt.Errorf("failed to write merged stream: %w", err)
	}

	target := w.replies
	if rec.IsRoot() {
		target = w.roots
	}
	if err := target.write(row); err != nil {
		return fmt.Errorf("failed to write stream: %w", err)
	}

	return nil
}

func (w *Writer) row(rec *Record) []string {
	pinned := ""
	if rec.Pinned {
		pinned = "1"
	}
	parent := ""
	if rec.Parent != 0 {
		parent = w.id(rec.Parent)
	}

	return []string{
		rec.Nickname,
		rec.Gender,
		FormatTimestamp(rec.Ctime),
		strconv.FormatInt(rec.Likes, 10),
		rec.Message,
		rec.Location,
		strconv.Itoa(rec.Level),
		w.id(rec.UID),
		w.id(rec.Rpid),
		parent,
		pinned,
	}
}

// id renders a numeric identifier. The `="..."` form makes Excel and
// friends treat the cell as text, preserving 19-digit ids exactly.
func (w *Writer) id(v int64) string {
	s := strconv.FormatInt(v, 10)
	if w.excelSafe {
		return `="` + s + `"`
	}
	return s
}

// Flush forces buffered rows of all streams to their files.
func (w *Writer) Flush() error {
	for _, s := range []*stream{w.roots, w.replies, w.merged} {
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes all streams.
func (w *Writer) Close() error {
	var firstErr error
	for _, s := range []*stream{w.roots, w.replies, w.merged} {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MergedPath returns the path of the merged stream file.
func (w *Writer) MergedPath() string {
	return filepath.Join(w.dir, w.baseName+"_all.csv")
}

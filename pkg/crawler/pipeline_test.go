package crawler

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/config"
	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/progress"
)

// fakeAPI scripts the client surface with plain functions.
type fakeAPI struct {
	ps         int
	rootCalls  int
	replyCalls int
	viewCalls  int
	fetchRoot  func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error)
	fetchReply func(target bilibili.Target, root, page int64) (*bilibili.ReplyPage, error)
	fetchView  func(bvid string) (*bilibili.VideoView, error)
}

func (f *fakeAPI) PageSize() int {
	if f.ps == 0 {
		return 20
	}
	return f.ps
}

func (f *fakeAPI) FetchRootPage(ctx context.Context, target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
	f.rootCalls++
	return f.fetchRoot(target, cursor)
}

func (f *fakeAPI) FetchReplyPage(ctx context.Context, target bilibili.Target, root, page int64) (*bilibili.ReplyPage, error) {
	f.replyCalls++
	if f.fetchReply == nil {
		return &bilibili.ReplyPage{}, nil
	}
	return f.fetchReply(target, root, page)
}

func (f *fakeAPI) FetchVideoView(ctx context.Context, bvid string) (*bilibili.VideoView, error) {
	f.viewCalls++
	if f.fetchView == nil {
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "no view scripted")
	}
	return f.fetchView(bvid)
}

func mkRoot(rpid int64, name string, rcount int64) *bilibili.Reply {
	r := &bilibili.Reply{Rpid: rpid, Rcount: rcount, Ctime: 1700000000}
	r.Member.Uname = name
	r.Content.Message = name + " says hi"
	return r
}

func mkReply(rpid, root, parent int64, name string) *bilibili.Reply {
	r := &bilibili.Reply{Rpid: rpid, Root: root, Parent: parent, Ctime: 1700000001}
	r.Member.Uname = name
	r.Content.Message = name + " replies"
	return r
}

func rootPage(next int64, end bool, roots ...*bilibili.Reply) *bilibili.MainPage {
	p := &bilibili.MainPage{Replies: roots}
	p.Cursor.Next = next
	p.Cursor.IsEnd = end
	return p
}

func emptyRootPage() *bilibili.MainPage {
	p := &bilibili.MainPage{}
	p.Cursor.IsEnd = true
	return p
}

func replyPage(count int64, replies ...*bilibili.Reply) *bilibili.ReplyPage {
	p := &bilibili.ReplyPage{Replies: replies}
	p.Page.Count = count
	return p
}

func testSetup(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = filepath.Join(t.TempDir(), "comments")
	cfg.Output.ProgressFile = filepath.Join(t.TempDir(), "progress.tsv")
	cfg.Output.ExcelSafeIDs = false
	return cfg
}

func newTestPipeline(t *testing.T, api API, cfg *config.Config) (*Pipeline, *progress.Tracker) {
	t.Helper()
	tracker, err := progress.NewTracker(cfg.Output.ProgressFile, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return NewPipeline(api, tracker, cfg, logger.NewNopLogger()), tracker
}

func readMerged(t *testing.T, cfg *config.Config, baseName string) [][]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.Output.BaseDirectory, baseName+"_all.csv"))
	require.NoError(t, err)

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\xEF\xBB\xBF")))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[1:]
}

func names(rows [][]string) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out
}

var videoTarget = bilibili.Target{OID: "12345", Type: bilibili.CommentTypeVideo}

func TestPipelineEndToEnd(t *testing.T) {
	// page 1 carries roots A and B where B is pinned with one reply,
	// page 2 carries root C and ends the area
	a := mkRoot(101, "A", 0)
	b := mkRoot(102, "B", 1)
	c := mkRoot(103, "C", 0)

	api := &fakeAPI{
		ps: 2,
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			switch cursor {
			case 1:
				p := rootPage(2, false, a, b)
				p.TopReplies = []*bilibili.Reply{b}
				return p, nil
			case 2:
				return rootPage(3, true, c), nil
			default:
				return emptyRootPage(), nil
			}
		},
		fetchReply: func(target bilibili.Target, root, page int64) (*bilibili.ReplyPage, error) {
			require.Equal(t, int64(102), root)
			if page == 1 {
				return replyPage(1, mkReply(201, 102, 102, "B-reply")), nil
			}
			return replyPage(1), nil
		},
	}

	cfg := testSetup(t)
	pipeline, tracker := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Roots)
	assert.Equal(t, 1, res.Replies)

	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"B", "B-reply", "A", "C"}, names(rows))

	// pinned flag set on B only
	assert.Equal(t, "1", rows[0][10])
	assert.Equal(t, "", rows[2][10])

	assert.True(t, tracker.IsPageDone(videoTarget, 1))
	assert.True(t, tracker.IsPageDone(videoTarget, 2))
}

func TestPinnedEmittedFirstAndOnce(t *testing.T) {
	// pinned root sits at raw position 3 of the normal list
	a := mkRoot(101, "A", 0)
	b := mkRoot(102, "B", 0)
	p := mkRoot(103, "P", 0)

	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				page := rootPage(2, true, a, b, p)
				page.TopReplies = []*bilibili.Reply{p}
				return page, nil
			}
			return emptyRootPage(), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Roots)

	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"P", "A", "B"}, names(rows))
}

func TestDedupIdempotence(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, false, mkRoot(101, "A", 0), mkRoot(102, "B", 0)), nil
			}
			return emptyRootPage(), nil
		},
	}

	cfg := testSetup(t)

	pipeline, _ := newTestPipeline(t, api, cfg)
	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	firstRows := readMerged(t, cfg, "video_12345")

	// fresh tracker simulates a process restart against the same record
	pipeline2, _ := newTestPipeline(t, api, cfg)
	res2 := pipeline2.Run(context.Background(), videoTarget)
	require.NoError(t, res2.Err)
	assert.Equal(t, 0, res2.Roots)
	assert.Equal(t, 0, res2.Replies)

	secondRows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, firstRows, secondRows)
}

func TestCompletedTargetSkippedWithoutFetching(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, true, mkRoot(101, "A", 0)), nil
			}
			return emptyRootPage(), nil
		},
	}

	cfg := testSetup(t)

	pipeline, tracker := newTestPipeline(t, api, cfg)
	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, tracker.IsDone(videoTarget))
	fetched := api.rootCalls

	// every later run over the same record stands down up front
	for i := 0; i < 3; i++ {
		rerun, _ := newTestPipeline(t, api, cfg)
		res := rerun.Run(context.Background(), videoTarget)
		require.NoError(t, res.Err)
		assert.Equal(t, StatusSkipped, res.Status)
	}
	assert.Equal(t, fetched, api.rootCalls)
}

func TestEmptyAreaMarkedDone(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			return &bilibili.MainPage{}, nil
		},
	}

	cfg := testSetup(t)
	pipeline, tracker := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, tracker.IsDone(videoTarget))
	assert.Equal(t, 1, api.rootCalls)
}

func TestResumeAfterTransientFailure(t *testing.T) {
	var failPage2 bool

	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			switch cursor {
			case 1:
				return rootPage(2, false, mkRoot(101, "A", 0)), nil
			case 2:
				if failPage2 {
					return nil, errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
				}
				return rootPage(3, true, mkRoot(102, "B", 0)), nil
			default:
				return emptyRootPage(), nil
			}
		},
	}

	cfg := testSetup(t)

	failPage2 = true
	pipeline, tracker := newTestPipeline(t, api, cfg)
	res := pipeline.Run(context.Background(), videoTarget)
	assert.Equal(t, StatusPartial, res.Status)
	require.Error(t, res.Err)
	assert.True(t, tracker.IsPageDone(videoTarget, 1))
	assert.False(t, tracker.IsPageDone(videoTarget, 2))

	failPage2 = false
	pipeline2, _ := newTestPipeline(t, api, cfg)
	res2 := pipeline2.Run(context.Background(), videoTarget)
	require.NoError(t, res2.Err)
	assert.Equal(t, StatusCompleted, res2.Status)

	// combined output matches an uninterrupted run: A then B, no dupes
	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"A", "B"}, names(rows))
}

func TestCursorRepeatGuard(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			// endpoint keeps reporting the same next cursor
			return rootPage(1, false, mkRoot(cursor*100, "R", 0)), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, api.rootCalls)
}

func TestReplySubPaging(t *testing.T) {
	root := mkRoot(101, "A", 3)

	api := &fakeAPI{
		ps: 2,
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, true, root), nil
			}
			return emptyRootPage(), nil
		},
		fetchReply: func(target bilibili.Target, rootID, page int64) (*bilibili.ReplyPage, error) {
			switch page {
			case 1:
				return replyPage(3, mkReply(201, 101, 101, "r1"), mkReply(202, 101, 101, "r2")), nil
			case 2:
				return replyPage(3, mkReply(203, 101, 201, "r3")), nil
			default:
				return replyPage(3), nil
			}
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Replies)
	assert.Equal(t, 2, api.replyCalls)

	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"A", "r1", "r2", "r3"}, names(rows))
	// r3 nests under r1, parent column preserves that
	assert.Equal(t, "201", rows[3][9])
}

func TestReplyPagingBoundedByCount(t *testing.T) {
	root := mkRoot(101, "A", 3)

	api := &fakeAPI{
		ps: 2,
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, true, root), nil
			}
			return emptyRootPage(), nil
		},
		fetchReply: func(target bilibili.Target, rootID, page int64) (*bilibili.ReplyPage, error) {
			// endpoint never reports a count and never runs dry,
			// handing back a full page of fresh ids every time
			return replyPage(0,
				mkReply(page*100+1, 101, 101, "x"),
				mkReply(page*100+2, 101, 101, "y")), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)

	// rcount of 3 at page size 2 allows two sub-pages, no more
	assert.Equal(t, 2, api.replyCalls)
}

func TestOrphanReplyStillWritten(t *testing.T) {
	root := mkRoot(101, "A", 1)

	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, true, root), nil
			}
			return emptyRootPage(), nil
		},
		fetchReply: func(target bilibili.Target, rootID, page int64) (*bilibili.ReplyPage, error) {
			if page == 1 {
				// root field points at a thread we never collected
				return replyPage(1, mkReply(201, 999, 999, "stray")), nil
			}
			return replyPage(1), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Replies)

	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"A", "stray"}, names(rows))
}

func TestFatalFailureAborts(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if cursor == 1 {
				return rootPage(2, false, mkRoot(101, "A", 0)), nil
			}
			return nil, errs.New(errs.ErrorTypeAuth, -101, "account not logged in")
		},
	}

	cfg := testSetup(t)
	pipeline, tracker := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	assert.Equal(t, StatusAborted, res.Status)
	require.Error(t, res.Err)

	// page 1 still counts as collected
	assert.True(t, tracker.IsPageDone(videoTarget, 1))
	rows := readMerged(t, cfg, "video_12345")
	assert.Equal(t, []string{"A"}, names(rows))
}

func TestVideoTitleNamesOutput(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			return emptyRootPage(), nil
		},
		fetchView: func(bv string) (*bilibili.VideoView, error) {
			return &bilibili.VideoView{Bvid: bv, Title: "My Video: Part 1"}, nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)

	_, err := os.Stat(filepath.Join(cfg.Output.BaseDirectory, "My Video_ Part 1_all.csv"))
	assert.NoError(t, err)
}

func TestResumedRunKeepsOriginalBaseName(t *testing.T) {
	var failPage2 bool

	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			switch cursor {
			case 1:
				return rootPage(2, false, mkRoot(101, "A", 0)), nil
			case 2:
				if failPage2 {
					return nil, errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
				}
				return rootPage(3, true, mkRoot(102, "B", 0)), nil
			default:
				return emptyRootPage(), nil
			}
		},
		fetchView: func(bv string) (*bilibili.VideoView, error) {
			return &bilibili.VideoView{Bvid: bv, Title: "My Video"}, nil
		},
	}

	cfg := testSetup(t)

	failPage2 = true
	pipeline, _ := newTestPipeline(t, api, cfg)
	res := pipeline.Run(context.Background(), videoTarget)
	assert.Equal(t, StatusPartial, res.Status)

	// resumed run cannot resolve the title anymore, but the files it
	// appends to stay the ones the first run named
	api.fetchView = func(bv string) (*bilibili.VideoView, error) {
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "view lookup down")
	}

	failPage2 = false
	pipeline2, _ := newTestPipeline(t, api, cfg)
	res2 := pipeline2.Run(context.Background(), videoTarget)
	require.NoError(t, res2.Err)
	assert.Equal(t, StatusCompleted, res2.Status)
	assert.Equal(t, 1, api.viewCalls)

	rows := readMerged(t, cfg, "My Video")
	assert.Equal(t, []string{"A", "B"}, names(rows))

	_, err := os.Stat(filepath.Join(cfg.Output.BaseDirectory, "video_12345_all.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestNonVideoTargetNaming(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			return emptyRootPage(), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)

	target := bilibili.Target{OID: "888777", Type: bilibili.CommentTypeImagePost}
	res := pipeline.Run(context.Background(), target)
	require.NoError(t, res.Err)

	_, err := os.Stat(filepath.Join(cfg.Output.BaseDirectory, "dynamic_888777_all.csv"))
	assert.NoError(t, err)
}

func TestInvalidTargetFails(t *testing.T) {
	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, &fakeAPI{}, cfg)

	res := pipeline.Run(context.Background(), bilibili.Target{OID: "not-a-number", Type: bilibili.CommentTypeVideo})
	assert.Equal(t, StatusFailed, res.Status)

	var apiErr *errs.Error
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, errs.ErrorTypeInvalidID, apiErr.Type)

	res = pipeline.Run(context.Background(), bilibili.Target{OID: "123", Type: bilibili.CommentType(5)})
	assert.Equal(t, StatusFailed, res.Status)
}

func TestBoundedPageRange(t *testing.T) {
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			return rootPage(cursor+1, false, mkRoot(cursor*10, "R", 0)), nil
		},
	}

	cfg := testSetup(t)
	cfg.Crawl.EndPage = 3
	pipeline, _ := newTestPipeline(t, api, cfg)

	res := pipeline.Run(context.Background(), videoTarget)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, api.rootCalls)
	assert.Equal(t, 3, res.Roots)

	// a re-run over the bounded range has nothing left to do
	pipeline2, _ := newTestPipeline(t, api, cfg)
	res2 := pipeline2.Run(context.Background(), videoTarget)
	assert.Equal(t, StatusSkipped, res2.Status)
	assert.Equal(t, 3, api.rootCalls)
}

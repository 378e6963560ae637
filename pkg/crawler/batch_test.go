package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bilicrawl/pkg/bilibili"
	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
)

func TestBatchHaltsOnCredentialFailure(t *testing.T) {
	target1 := bilibili.Target{OID: "111", Type: bilibili.CommentTypeVideo}
	target2 := bilibili.Target{OID: "222", Type: bilibili.CommentTypeVideo}
	target3 := bilibili.Target{OID: "333", Type: bilibili.CommentTypeVideo}

	// target1 completes; target2 loses credentials after its first
	// page; target3 must never be attempted
	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			switch target.OID {
			case "111":
				return emptyRootPage(), nil
			case "222":
				if cursor == 1 {
					return rootPage(2, false, mkRoot(101, "A", 0)), nil
				}
				return nil, errs.New(errs.ErrorTypeAuth, -101, "account not logged in")
			default:
				t.Fatalf("target %s should not have been attempted", target.OID)
				return nil, nil
			}
		},
	}

	cfg := testSetup(t)
	pipeline, tracker := newTestPipeline(t, api, cfg)
	runner := NewRunner(pipeline, logger.NewNopLogger())

	summary := runner.Run(context.Background(), []bilibili.Target{target1, target2, target3})

	require.Len(t, summary.Results, 2)
	assert.Equal(t, StatusCompleted, summary.Results[0].Status)
	assert.Equal(t, StatusAborted, summary.Results[1].Status)

	// target2 kept its partial progress for the next run
	assert.Equal(t, 1, summary.Results[1].Roots)
	assert.True(t, tracker.IsPageDone(target2, 1))

	require.Len(t, summary.Unattempted, 1)
	assert.Equal(t, target3, summary.Unattempted[0])

	assert.True(t, summary.Aborted())
	assert.False(t, summary.OK())
}

func TestBatchContinuesPastTransientFailure(t *testing.T) {
	target1 := bilibili.Target{OID: "111", Type: bilibili.CommentTypeVideo}
	target2 := bilibili.Target{OID: "222", Type: bilibili.CommentTypeVideo}

	api := &fakeAPI{
		fetchRoot: func(target bilibili.Target, cursor int64) (*bilibili.MainPage, error) {
			if target.OID == "111" {
				return nil, errs.New(errs.ErrorTypeNetwork, 0, "unreachable")
			}
			return emptyRootPage(), nil
		},
	}

	cfg := testSetup(t)
	pipeline, _ := newTestPipeline(t, api, cfg)
	runner := NewRunner(pipeline, logger.NewNopLogger())

	summary := runner.Run(context.Background(), []bilibili.Target{target1, target2})

	require.Len(t, summary.Results, 2)
	assert.Equal(t, StatusPartial, summary.Results[0].Status)
	assert.Equal(t, StatusCompleted, summary.Results[1].Status)
	assert.Empty(t, summary.Unattempted)
	assert.False(t, summary.Aborted())
	assert.True(t, summary.OK())
}

func TestLoadTargetsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "424242.csv")
	content := "\xEF\xBB\xBFcomment_id_str,comment_type\n" +
		"12345,1\n" +
		"99887766,11\n" +
		"55555,17\n" +
		"badrow\n" +
		"77777,99\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	targets, err := LoadTargets(path, logger.NewNopLogger())
	require.NoError(t, err)

	require.Len(t, targets, 3)
	assert.Equal(t, bilibili.Target{OID: "12345", Type: bilibili.CommentTypeVideo}, targets[0])
	assert.Equal(t, bilibili.Target{OID: "99887766", Type: bilibili.CommentTypeImagePost}, targets[1])
	assert.Equal(t, bilibili.Target{OID: "55555", Type: bilibili.CommentTypeRepost}, targets[2])
}

func TestLoadTargetsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("comment_id_str,comment_type\n1,1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("comment_id_str,comment_type\n2,11\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))

	targets, err := LoadTargets(dir, logger.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "1", targets[0].OID)
	assert.Equal(t, "2", targets[1].OID)
}

func TestLoadTargetsEmptyDirectory(t *testing.T) {
	_, err := LoadTargets(t.TempDir(), logger.NewNopLogger())
	assert.Error(t, err)
}

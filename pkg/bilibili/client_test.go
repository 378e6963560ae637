package bilibili

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bilicrawl/pkg/config"
	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/ratelimit"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.Bilibili.Cookie = "SESSDATA=test"
	cfg.Bilibili.CSRFToken = "testcsrf"
	cfg.RateLimit.MaxRetries = 3
	cfg.RateLimit.RetryDelay = 0

	client := NewClient(cfg, ratelimit.None{}, logger.NewNopLogger())
	client.SetBaseURL(server.URL)
	return client, server
}

func TestFetchRootPage(t *testing.T) {
	var gotQuery map[string]string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, MainCommentEndpoint, r.URL.Path)
		gotQuery = map[string]string{
			"next": r.URL.Query().Get("next"),
			"type": r.URL.Query().Get("type"),
			"oid":  r.URL.Query().Get("oid"),
			"mode": r.URL.Query().Get("mode"),
		}
		assert.Equal(t, "SESSDATA=test", r.Header.Get("Cookie"))
		assert.Equal(t, "testcsrf", r.Header.Get("csrf"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": 0,
			"message": "0",
			"data": {
				"cursor": {"is_end": false, "next": 2, "mode": 3},
				"replies": [
					{
						"rpid": 1001,
						"ctime": 1700000000,
						"like": 42,
						"rcount": 2,
						"member": {"mid": 77, "uname": "alice", "sex": "女", "level_info": {"current_level": 5}},
						"content": {"message": "first"},
						"reply_control": {"location": "IP属地：上海"}
					}
				],
				"top_replies": [
					{"rpid": 2002, "member": {"mid": 88, "uname": "bob"}, "content": {"message": "pinned"}}
				]
			}
		}`))
	}))

	page, err := client.FetchRootPage(context.Background(), Target{OID: "12345", Type: CommentTypeVideo}, 1)
	require.NoError(t, err)

	assert.Equal(t, "1", gotQuery["next"])
	assert.Equal(t, "1", gotQuery["type"])
	assert.Equal(t, "12345", gotQuery["oid"])
	assert.Equal(t, "3", gotQuery["mode"])

	require.Len(t, page.Replies, 1)
	reply := page.Replies[0]
	assert.Equal(t, int64(1001), reply.Rpid)
	assert.Equal(t, "alice", reply.Member.Uname)
	assert.Equal(t, 5, reply.Member.LevelInfo.CurrentLevel)
	assert.Equal(t, "上海", reply.Location())
	assert.Equal(t, int64(2), reply.Rcount)

	require.Len(t, page.TopReplies, 1)
	assert.Equal(t, int64(2002), page.TopReplies[0].Rpid)

	assert.False(t, page.Cursor.IsEnd)
	assert.Equal(t, int64(2), page.Cursor.Next)
}

func TestFetchReplyPage(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, ReplyCommentEndpoint, r.URL.Path)
		assert.Equal(t, "1001", r.URL.Query().Get("root"))
		assert.Equal(t, "2", r.URL.Query().Get("pn"))

		w.Write([]byte(`{
			"code": 0,
			"message": "0",
			"data": {
				"page": {"num": 2, "size": 20, "count": 25},
				"replies": [
					{"rpid": 3003, "parent": 1001, "root": 1001, "content": {"message": "sub"}}
				]
			}
		}`))
	}))

	page, err := client.FetchReplyPage(context.Background(), Target{OID: "12345", Type: CommentTypeVideo}, 1001, 2)
	require.NoError(t, err)
	require.Len(t, page.Replies, 1)
	assert.Equal(t, int64(1001), page.Replies[0].Root)
	assert.Equal(t, int64(25), page.Page.Count)
}

func TestFetchVideoView(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, VideoViewEndpoint, r.URL.Path)
		assert.Equal(t, "BV1xx411c7mD", r.URL.Query().Get("bvid"))

		w.Write([]byte(`{"code": 0, "message": "0", "data": {"bvid": "BV1xx411c7mD", "aid": 2, "title": "some title", "owner": {"mid": 9, "name": "uploader"}}}`))
	}))

	view, err := client.FetchVideoView(context.Background(), "BV1xx411c7mD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Aid)
	assert.Equal(t, "some title", view.Title)
}

func TestFetchSpaceFeed(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, SpaceFeedEndpoint, r.URL.Path)
		assert.Equal(t, "424242", r.URL.Query().Get("host_mid"))
		assert.Equal(t, "off123", r.URL.Query().Get("offset"))
		assert.Equal(t, "2", r.URL.Query().Get("next"))

		w.Write([]byte(`{
			"code": 0,
			"message": "0",
			"data": {
				"has_more": true,
				"offset": "off456",
				"items": [
					{"basic": {"comment_id_str": "99887766", "comment_type": 11}}
				]
			}
		}`))
	}))

	feed, err := client.FetchSpaceFeed(context.Background(), "424242", "off123")
	require.NoError(t, err)
	assert.True(t, feed.HasMore)
	assert.Equal(t, "off456", feed.Offset)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, "99887766", feed.Items[0].Basic.CommentIDStr)
	assert.Equal(t, int64(11), feed.Items[0].Basic.CommentType)
}

func TestBusinessCodeMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType errs.ErrorType
	}{
		{"not logged in", `{"code": -101, "message": "账号未登录"}`, errs.ErrorTypeAuth},
		{"csrf failure", `{"code": -111, "message": "csrf 校验失败"}`, errs.ErrorTypeAuth},
		{"request blocked", `{"code": -412, "message": "请求被拦截"}`, errs.ErrorTypeRateLimit},
		{"missing object", `{"code": -404, "message": "啥都木有"}`, errs.ErrorTypeNotFound},
		{"comment area closed", `{"code": 12002, "message": "评论区已关闭"}`, errs.ErrorTypeNotFound},
		{"unknown code", `{"code": 42, "message": "?"}`, errs.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))

			_, err := client.FetchRootPage(context.Background(), Target{OID: "1", Type: CommentTypeVideo}, 1)
			require.Error(t, err)

			var apiErr *errs.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantType, apiErr.Type)
		})
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"code": -101, "message": "账号未登录"}`))
	}))

	_, err := client.FetchRootPage(context.Background(), Target{OID: "1", Type: CommentTypeVideo}, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestServerErrorRetriedUntilSuccess(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code": 0, "message": "0", "data": {"cursor": {"is_end": true}, "replies": []}}`))
	}))

	page, err := client.FetchRootPage(context.Background(), Target{OID: "1", Type: CommentTypeVideo}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, page.Cursor.IsEnd)
}

func TestRetryCapSurfacesTransientError(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.FetchRootPage(context.Background(), Target{OID: "1", Type: CommentTypeVideo}, 1)
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeRateLimit, apiErr.Type)
	assert.True(t, errs.IsTransient(apiErr.Type))
}

func TestMalformedResponseIsFatal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>blocked</html>`},
		{"missing data", `{"code": 0, "message": "0"}`},
		{"null data", `{"code": 0, "message": "0", "data": null}`},
		{"wrong data shape", `{"code": 0, "message": "0", "data": {"replies": "not-a-list"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Write([]byte(tt.body))
			}))

			_, err := client.FetchRootPage(context.Background(), Target{OID: "1", Type: CommentTypeVideo}, 1)
			require.Error(t, err)
			assert.Equal(t, 1, calls)

			var apiErr *errs.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
			assert.True(t, errs.IsFatal(apiErr.Type))
		})
	}
}

func TestContextCancellation(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "message": "0", "data": {}}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchRootPage(ctx, Target{OID: "1", Type: CommentTypeVideo}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplyLocation(t *testing.T) {
	r := &Reply{}
	assert.Equal(t, "未知", r.Location())

	r.ReplyControl.Location = "IP属地：广东"
	assert.Equal(t, "广东", r.Location())

	r.ReplyControl.Location = "海外"
	assert.Equal(t, "海外", r.Location())
}

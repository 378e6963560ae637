package crawler

import (
	"context"

	"bilicrawl/pkg/bilibili"
)

// API is the client surface the pipeline consumes. *bilibili.Client
// satisfies it; tests substitute a scripted fake.
type API interface {
	FetchRootPage(ctx context.Context, target bilibili.Target, cursor int64) (*bilibili.MainPage, error)
	FetchReplyPage(ctx context.Context, target bilibili.Target, root int64, page int64) (*bilibili.ReplyPage, error)
	FetchVideoView(ctx context.Context, bvid string) (*bilibili.VideoView, error)
	PageSize() int
}

package bilibili

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// BaseURL is the base URL for the public API
	BaseURL = "https://api.bilibili.com"

	// MainCommentEndpoint lists root comments of a comment area
	MainCommentEndpoint = "/x/v2/reply/main"

	// ReplyCommentEndpoint lists nested replies under a root comment
	ReplyCommentEndpoint = "/x/v2/reply/reply"

	// VideoViewEndpoint returns video metadata for a bvid
	VideoViewEndpoint = "/x/web-interface/view"

	// SpaceFeedEndpoint lists a user's space feed
	SpaceFeedEndpoint = "/x/polymer/web-dynamic/v1/feed/space"

	// DefaultPageSize is the default `ps` parameter
	DefaultPageSize = 20

	// MaxPageSize is the largest `ps` the list endpoints accept
	MaxPageSize = 20

	// mainCommentMode requests time-ordered root pages, which is the
	// only ordering whose `next` cursor behaves as a page index
	mainCommentMode = "3"
)

func clampPageSize(ps int) int {
	if ps <= 0 {
		return DefaultPageSize
	}
	if ps > MaxPageSize {
		return MaxPageSize
	}
	return ps
}

// MainCommentURL constructs the URL for one page of root comments.
func MainCommentURL(base, oid string, typ CommentType, cursor int64, ps int) string {
	params := url.Values{}
	params.Set("next", strconv.FormatInt(cursor, 10))
	params.Set("type", strconv.Itoa(int(typ)))
	params.Set("oid", oid)
	params.Set("ps", strconv.Itoa(clampPageSize(ps)))
	params.Set("mode", mainCommentMode)

	return fmt.Sprintf("%s%s?%s", base, MainCommentEndpoint, params.Encode())
}

// ReplyCommentURL constructs the URL for one page of nested replies
// under the given root comment.
func ReplyCommentURL(base, oid string, typ CommentType, root int64, page int64, ps int) string {
	params := url.Values{}
	params.Set("type", strconv.Itoa(int(typ)))
	params.Set("oid", oid)
	params.Set("ps", strconv.Itoa(clampPageSize(ps)))
	params.Set("pn", strconv.FormatInt(page, 10))
	params.Set("root", strconv.FormatInt(root, 10))

	return fmt.Sprintf("%s%s?%s", base, ReplyCommentEndpoint, params.Encode())
}

// VideoViewURL constructs the URL for a video's metadata.
func VideoViewURL(base, bvid string) string {
	params := url.Values{}
	params.Set("bvid", bvid)

	return fmt.Sprintf("%s%s?%s", base, VideoViewEndpoint, params.Encode())
}

// SpaceFeedURL constructs the URL for one page of a user's space feed.
// An empty offset requests the first page.
func SpaceFeedURL(base, mid, offset string) string {
	params := url.Values{}
	params.Set("host_mid", mid)
	if offset != "" {
		params.Set("next", "2")
		params.Set("offset", offset)
	}

	return fmt.Sprintf("%s%s?%s", base, SpaceFeedEndpoint, params.Encode())
}

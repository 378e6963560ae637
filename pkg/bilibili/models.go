package bilibili

import (
	"encoding/json"
	"strconv"
	"strings"

	errs "bilicrawl/pkg/errors"
)

// CommentType identifies which kind of object a comment area belongs to.
// The values are the platform's own `type` parameter.
type CommentType int

const (
	// CommentTypeVideo is the comment area under a video.
	CommentTypeVideo CommentType = 1
	// CommentTypeImagePost is the comment area under an image post.
	CommentTypeImagePost CommentType = 11
	// CommentTypeRepost is the comment area under a text or repost post.
	CommentTypeRepost CommentType = 17
)

// Valid reports whether the value is one of the supported comment areas.
func (t CommentType) Valid() bool {
	switch t {
	case CommentTypeVideo, CommentTypeImagePost, CommentTypeRepost:
		return true
	}
	return false
}

func (t CommentType) String() string {
	switch t {
	case CommentTypeVideo:
		return "video"
	case CommentTypeImagePost:
		return "image_post"
	case CommentTypeRepost:
		return "repost"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParseCommentType validates a raw numeric comment type.
func ParseCommentType(v int64) (CommentType, error) {
	t := CommentType(v)
	if !t.Valid() {
		return 0, errs.New(errs.ErrorTypeInvalidID, 0, "unsupported comment type %d", v)
	}
	return t, nil
}

// Target is one comment area to collect: an object id plus its type.
// Targets are immutable for the duration of a run.
type Target struct {
	OID  string
	Type CommentType
}

// Key returns a stable identity string used in progress records and logs.
func (t Target) Key() string {
	return t.OID + ":" + strconv.Itoa(int(t.Type))
}

// envelope is the platform's uniform response wrapper. A non-zero Code
// means the request failed at the API level even when HTTP says 200.
type envelope struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Member is the comment author block.
type Member struct {
	Mid       int64  `json:"mid"`
	Uname     string `json:"uname"`
	Sex       string `json:"sex"`
	LevelInfo struct {
		CurrentLevel int `json:"current_level"`
	} `json:"level_info"`
}

// Reply is a single comment, root or nested, as the API returns it.
type Reply struct {
	Rpid   int64 `json:"rpid"`
	Oid    int64 `json:"oid"`
	Parent int64 `json:"parent"`
	Root   int64 `json:"root"`
	Ctime  int64 `json:"ctime"`
	Like   int64 `json:"like"`
	// Rcount is the number of replies under a root comment.
	Rcount  int64  `json:"rcount"`
	Member  Member `json:"member"`
	Content struct {
		Message string `json:"message"`
	} `json:"content"`
	ReplyControl struct {
		Location string `json:"location"`
	} `json:"reply_control"`
}

// Location returns the commenter's IP region with the platform's
// "IP属地：" prefix stripped. Empty regions come back as "未知".
func (r *Reply) Location() string {
	loc := strings.TrimPrefix(r.ReplyControl.Location, "IP属地：")
	if loc == "" {
		return "未知"
	}
	return loc
}

// MainCursor is the paging state of the root comment endpoint.
type MainCursor struct {
	IsEnd bool  `json:"is_end"`
	Next  int64 `json:"next"`
	Mode  int   `json:"mode"`
}

// MainPage is one page of root comments. TopReplies carries pinned
// comments and is only populated on the first page.
type MainPage struct {
	Cursor     MainCursor `json:"cursor"`
	Replies    []*Reply   `json:"replies"`
	TopReplies []*Reply   `json:"top_replies"`
}

// ReplyPage is one page of nested replies under a root comment.
type ReplyPage struct {
	Page struct {
		Num   int64 `json:"num"`
		Size  int64 `json:"size"`
		Count int64 `json:"count"`
	} `json:"page"`
	Replies []*Reply `json:"replies"`
}

// VideoView is the subset of the video info endpoint used for naming
// output files and resolving identifiers.
type VideoView struct {
	Bvid  string `json:"bvid"`
	Aid   int64  `json:"aid"`
	Title string `json:"title"`
	Owner struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
}

// FeedItem is one entry of a user's space feed. Basic carries the
// comment area identity of the underlying post.
type FeedItem struct {
	Basic struct {
		CommentIDStr string `json:"comment_id_str"`
		CommentType  int64  `json:"comment_type"`
	} `json:"basic"`
}

// SpaceFeed is one page of a user's space feed, paged by opaque offset.
type SpaceFeed struct {
	HasMore bool       `json:"has_more"`
	Offset  string     `json:"offset"`
	Items   []FeedItem `json:"items"`
}

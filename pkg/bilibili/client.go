package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bilicrawl/pkg/config"
	errs "bilicrawl/pkg/errors"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/ratelimit"
	"bilicrawl/pkg/retry"
)

// Client talks to the public comment API. All fetch methods wait on the
// configured rate limit policy before issuing a request and retry
// transient failures with exponential backoff. One Client is meant to
// serve one sequential run; it is not safe for concurrent use.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	pageSize   int
	limiter    ratelimit.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     logger.Logger
}

// NewClient creates a client from the loaded configuration. A nil
// limiter disables inter-request delays, which only makes sense in
// tests.
func NewClient(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if limiter == nil {
		limiter = ratelimit.None{}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RateLimit.RequestTimeout,
		},
		headers: map[string]string{
			"User-Agent": cfg.Bilibili.UserAgent,
			"Cookie":     cfg.Bilibili.Cookie,
			"csrf":       cfg.Bilibili.CSRFToken,
		},
		baseURL:    BaseURL,
		pageSize:   cfg.Crawl.PageSize,
		limiter:    limiter,
		maxRetries: cfg.RateLimit.MaxRetries,
		retryDelay: cfg.RateLimit.RetryDelay,
		logger:     log,
	}
}

// SetBaseURL points the client at a different API host.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// PageSize returns the configured `ps` parameter.
func (c *Client) PageSize() int {
	return clampPageSize(c.pageSize)
}

// FetchRootPage fetches one page of root comments for the target. The
// returned page carries the endpoint's cursor state; pinned comments
// appear in TopReplies on the first page only.
func (c *Client) FetchRootPage(ctx context.Context, target Target, cursor int64) (*MainPage, error) {
	url := MainCommentURL(c.baseURL, target.OID, target.Type, cursor, c.pageSize)

	var page MainPage
	if err := c.getJSON(ctx, url, &page); err != nil {
		c.logger.ErrorWithFields("failed to fetch root comment page", map[string]interface{}{
			"oid":    target.OID,
			"type":   int(target.Type),
			"cursor": cursor,
			"error":  err.Error(),
		})
		return nil, err
	}

	logger.LogPageFetched(target.OID, "root", cursor, len(page.Replies))
	return &page, nil
}

// FetchReplyPage fetches one page of nested replies under a root
// comment. Reply paging is 1-based.
func (c *Client) FetchReplyPage(ctx context.Context, target Target, root int64, page int64) (*ReplyPage, error) {
	url := ReplyCommentURL(c.baseURL, target.OID, target.Type, root, page, c.pageSize)

	var rp ReplyPage
	if err := c.getJSON(ctx, url, &rp); err != nil {
		c.logger.ErrorWithFields("failed to fetch reply page", map[string]interface{}{
			"oid":   target.OID,
			"root":  root,
			"page":  page,
			"error": err.Error(),
		})
		return nil, err
	}

	logger.LogPageFetched(target.OID, "reply", page, len(rp.Replies))
	return &rp, nil
}

// FetchVideoView fetches video metadata, used to name output files.
func (c *Client) FetchVideoView(ctx context.Context, bvid string) (*VideoView, error) {
	url := VideoViewURL(c.baseURL, bvid)

	var view VideoView
	if err := c.getJSON(ctx, url, &view); err != nil {
		c.logger.ErrorWithFields("failed to fetch video info", map[string]interface{}{
			"bvid":  bvid,
			"error": err.Error(),
		})
		return nil, err
	}

	return &view, nil
}

// FetchSpaceFeed fetches one page of a user's space feed. Pass the
// offset from the previous page, or empty for the first page.
func (c *Client) FetchSpaceFeed(ctx context.Context, mid, offset string) (*SpaceFeed, error) {
	url := SpaceFeedURL(c.baseURL, mid, offset)

	var feed SpaceFeed
	if err := c.getJSON(ctx, url, &feed); err != nil {
		c.logger.ErrorWithFields("failed to fetch space feed", map[string]interface{}{
			"mid":   mid,
			"error": err.Error(),
		})
		return nil, err
	}

	return &feed, nil
}

// getJSON waits on the rate limit policy, then performs a GET with
// retry on transient failures, unwraps the response envelope and
// decodes its data field into target.
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	cfg := &retry.Config{
		MaxAttempts: c.maxRetries,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    c.retryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: retry.DefaultRetryIf,
		Context: ctx,
		Logger:  c.logger,
	}

	return retry.Do(func() error {
		return c.fetchOnce(ctx, url, target)
	}, cfg)
}

// fetchOnce performs a single request attempt.
func (c *Client) fetchOnce(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()

	logger.LogRequest(http.MethodGet, url, resp.StatusCode, float64(duration.Milliseconds()))

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}

	if env.Code != 0 {
		return c.apiError(env.Code, env.Message)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "response has no data field")
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "unexpected data shape: %v", err)
	}

	return nil
}

// apiError maps the envelope's business code to a typed error. Codes
// are from the platform's public error table.
func (c *Client) apiError(code int64, message string) error {
	switch code {
	case -101, -111, -400:
		// not logged in / csrf failure / bad credentials
		c.logger.WarnWithFields("authentication rejected by API", map[string]interface{}{
			"code":    code,
			"message": message,
		})
		return errs.New(errs.ErrorTypeAuth, int(code), "authentication rejected: %s", message)
	case -404, 12002:
		// missing object / comment area closed
		return errs.New(errs.ErrorTypeNotFound, int(code), "resource not available: %s", message)
	case -412:
		// request blocked, the platform's anti-crawl throttle
		return errs.New(errs.ErrorTypeRateLimit, int(code), "request blocked: %s", message)
	case -500, -502, -504:
		return errs.New(errs.ErrorTypeServerError, int(code), "server error: %s", message)
	default:
		return errs.New(errs.ErrorTypeUnknown, int(code), "API error: %s", message)
	}
}

// checkResponseStatus maps HTTP-level failures to typed errors.
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, resp.StatusCode, "authentication required")
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			fmt.Sscanf(v, "%d", &retryAfter)
		}
		logger.LogRateLimit(resp.Request.URL.Path, retryAfter)
		return errs.New(errs.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
	case resp.StatusCode >= 500:
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "server error")
	case resp.StatusCode >= 400:
		return errs.New(errs.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
	default:
		return nil
	}
}

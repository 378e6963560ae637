// Package bilibili implements the HTTP client for the public comment
// API: root comment pages, nested reply pages, video metadata and user
// space feeds.
//
// Every response arrives inside the platform's `{code, message, data}`
// envelope; the client validates it at the boundary and maps failures
// to the typed errors in pkg/errors. HTTP-level and transport failures
// classify as transient and are retried with exponential backoff;
// rejected credentials and malformed payloads classify as fatal and
// surface immediately.
//
// The client serializes requests through a ratelimit.Limiter, so a
// sequential caller gets the randomized inter-request delay for free:
//
//	limiter := ratelimit.NewRandomDelay(cfg.RateLimit.DelayMin, cfg.RateLimit.DelayMax)
//	client := bilibili.NewClient(cfg, limiter, log)
//	page, err := client.FetchRootPage(ctx, target, 1)
package bilibili

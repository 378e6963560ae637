package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"bilicrawl/pkg/auth"
	"bilicrawl/pkg/bilibili"
	"bilicrawl/pkg/bvid"
	"bilicrawl/pkg/config"
	"bilicrawl/pkg/logger"
	"bilicrawl/pkg/ratelimit"
)

// loadConfig loads configuration with the shared precedence chain and
// initializes the global logger from it.
func loadConfig(flags map[string]interface{}) *config.Config {
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	return cfg
}

// resolveCredentials fills cfg.Bilibili from the credential manager
// when the config and environment did not already provide a session.
// accountName selects a specific stored account.
func resolveCredentials(cfg *config.Config, accountName string) {
	manager, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Warn("credential manager unavailable")
		manager = nil
	}

	var account *auth.Account
	switch {
	case accountName != "":
		if manager == nil {
			fmt.Fprintln(os.Stderr, "no credential store available for account", accountName)
			os.Exit(1)
		}
		account, err = manager.Retrieve(accountName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "account %q not found, run 'bilicrawl login --list' to see stored accounts\n", accountName)
			os.Exit(1)
		}
	case cfg.Bilibili.Cookie != "" && cfg.Bilibili.CSRFToken != "":
		logger.Info("using credentials from configuration")
		return
	default:
		if manager != nil {
			account, _ = manager.RetrieveDefault()
		}
	}

	if account == nil {
		logger.Error("no credentials found")
		fmt.Fprintln(os.Stderr, "No Bilibili credentials found.")
		fmt.Fprintln(os.Stderr, "\nTo log in with a QR code, run:")
		fmt.Fprintln(os.Stderr, "  bilicrawl login")
		fmt.Fprintln(os.Stderr, "\nOr set environment variables:")
		fmt.Fprintln(os.Stderr, "  export BILICRAWL_COOKIE=your_cookie")
		fmt.Fprintln(os.Stderr, "  export BILICRAWL_CSRF_TOKEN=your_bili_jct")
		os.Exit(1)
	}

	cfg.Bilibili.Cookie = account.Cookie
	cfg.Bilibili.CSRFToken = account.CSRFToken
	if account.UserAgent != "" {
		cfg.Bilibili.UserAgent = account.UserAgent
	}
	logger.WithField("account", account.Name).Info("using stored credentials")
}

// buildLimiter assembles the request pacing chain from config.
func buildLimiter(cfg *config.Config) ratelimit.Limiter {
	chain := ratelimit.Chain{
		ratelimit.NewRandomDelay(cfg.RateLimit.DelayMin, cfg.RateLimit.DelayMax),
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		chain = append(chain, ratelimit.NewPerMinute(cfg.RateLimit.RequestsPerMinute))
	}
	return chain
}

// parseTarget turns a command line identifier into a crawl target.
// Accepted forms: BV1xx4y1z7XX, av170001, a bare numeric oid (comment
// type taken from typeName), or oid:type.
func parseTarget(arg, typeName string) (bilibili.Target, error) {
	arg = strings.TrimSpace(arg)

	if bvid.IsValid(arg) {
		aid, err := bvid.Decode(arg)
		if err != nil {
			return bilibili.Target{}, err
		}
		return bilibili.Target{OID: strconv.FormatInt(aid, 10), Type: bilibili.CommentTypeVideo}, nil
	}

	if rest, ok := strings.CutPrefix(strings.ToLower(arg), "av"); ok {
		if _, err := strconv.ParseInt(rest, 10, 64); err != nil {
			return bilibili.Target{}, fmt.Errorf("invalid av number %q", arg)
		}
		return bilibili.Target{OID: rest, Type: bilibili.CommentTypeVideo}, nil
	}

	if oid, typePart, ok := strings.Cut(arg, ":"); ok {
		n, err := strconv.ParseInt(typePart, 10, 64)
		if err != nil {
			return bilibili.Target{}, fmt.Errorf("invalid comment type %q", typePart)
		}
		ct, err := bilibili.ParseCommentType(n)
		if err != nil {
			return bilibili.Target{}, err
		}
		return bilibili.Target{OID: oid, Type: ct}, nil
	}

	ct, err := parseTypeName(typeName)
	if err != nil {
		return bilibili.Target{}, err
	}
	return bilibili.Target{OID: arg, Type: ct}, nil
}

// parseTypeName resolves a --type flag value, accepting both the
// numeric comment type and a readable name.
func parseTypeName(name string) (bilibili.CommentType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "video", "av", "bv":
		return bilibili.CommentTypeVideo, nil
	case "image", "dynamic", "opus":
		return bilibili.CommentTypeImagePost, nil
	case "repost", "text":
		return bilibili.CommentTypeRepost, nil
	}
	n, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown comment type %q", name)
	}
	return bilibili.ParseCommentType(n)
}

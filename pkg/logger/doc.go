// Package logger provides structured logging for the crawler.
//
// It wraps zerolog behind a small interface so that the pipeline,
// client and commands can log with fields without depending on the
// zerolog API directly, and so tests can inject a no-op logger.
//
// Basic usage:
//
//	cfg := &config.LoggingConfig{Level: "info"}
//	err := logger.Initialize(cfg)
//
//	logger.Info("crawl started")
//	logger.WithField("oid", "12345").Info("target loaded")
//	logger.WithError(err).Error("fetch failed")
package logger

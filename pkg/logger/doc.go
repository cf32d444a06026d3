// Package logger provides a structured logging interface for the image harvester.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger in their constructors and tests can swap in NewNopLogger or
// NewTestLogger.
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//	logger.Info("harvest started")
//	logger.WithField("url", articleURL).Info("article fetched")
//
// Components receive a Logger and add their own fields:
//
//	log := logger.GetLogger().WithField("component", "downloader")
//	log.InfoWithFields("download finished", map[string]interface{}{
//	    "succeeded": 9,
//	    "failed":    1,
//	})
package logger

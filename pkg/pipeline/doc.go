// Package pipeline ties the imgharvest stages together.
//
// A job runs in two steps. Analyze fetches (or takes) article markup,
// extracts image descriptors, filters out non-content images and resolves
// original-resolution URLs; the kept descriptors are the preview. Download
// then fetches a caller-chosen subset through the bounded worker pool and
// packages the successes into a zip archive with a manifest.
//
// Jobs share nothing except the HTTP transport and the per-host rate limiter
// held by the Pipeline, both safe for concurrent use.
package pipeline

package downloader

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/fetch"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
	"imgharvest/pkg/probe"
	"imgharvest/pkg/retry"
)

// ImageFetcher downloads a single image body. *fetch.Client implements it.
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL, referer string, maxBytes int64) (*fetch.Image, error)
}

// ProgressFunc is called once per target, in completion order, from a single goroutine
type ProgressFunc func(done, total int, result models.DownloadResult)

// Options configures a download run
type Options struct {
	Workers        int
	RequestTimeout time.Duration
	MaxImageSize   int64
	RetryAttempts  int
	BackoffBase    time.Duration
	Referer        string
	Progress       ProgressFunc
}

// OptionsFromConfig builds options from the download config section
func OptionsFromConfig(cfg config.DownloadConfig) Options {
	return Options{
		Workers:        cfg.MaxWorkers,
		RequestTimeout: cfg.RequestTimeout,
		MaxImageSize:   cfg.MaxImageSize,
		RetryAttempts:  cfg.RetryAttempts,
		BackoffBase:    cfg.BackoffBase,
	}
}

// Manager downloads resolved targets with a bounded worker pool
type Manager struct {
	fetcher ImageFetcher
	opts    Options
	logger  logger.Logger
}

// NewManager creates a download manager. Workers below one are raised to one.
func NewManager(fetcher ImageFetcher, opts Options, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	return &Manager{
		fetcher: fetcher,
		opts:    opts,
		logger:  log.WithField("component", "downloader"),
	}
}

// WithProgress returns a copy of the manager reporting to fn
func (m *Manager) WithProgress(fn ProgressFunc) *Manager {
	clone := *m
	clone.opts.Progress = fn
	return &clone
}

// WithReferer returns a copy of the manager sending referer with image requests
func (m *Manager) WithReferer(referer string) *Manager {
	clone := *m
	clone.opts.Referer = referer
	return &clone
}

// Download fetches every target and returns one result per target, ordered
// by descriptor index. A failing item never affects the others. When ctx is
// cancelled, in-flight requests are aborted and targets not yet started come
// back as Failed(cancelled). No goroutine outlives the call.
func (m *Manager) Download(ctx context.Context, targets []models.ResolvedTarget) []models.DownloadResult {
	ordered := slices.Clone(targets)
	slices.SortStableFunc(ordered, func(a, b models.ResolvedTarget) int {
		return cmp.Compare(a.Descriptor.Index, b.Descriptor.Index)
	})

	total := len(ordered)
	results := make([]models.DownloadResult, total)
	if total == 0 {
		return results
	}

	workers := min(m.opts.Workers, total)
	pool := newWorkerPool(ctx, workers, results, m.process, m.logger)
	pool.Start()

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		defer pool.Stop()
		for slot, target := range ordered {
			if err := pool.Submit(slot, target); err != nil {
				m.logger.DebugWithFields("stopped submitting downloads", map[string]interface{}{
					"submitted": slot,
					"reason":    err.Error(),
				})
				return
			}
		}
	}()

	done := 0
	for slot := range pool.Results() {
		done++
		m.report(done, total, results[slot])
	}
	<-submitted

	for slot := range results {
		if results[slot].Outcome != "" {
			continue
		}
		results[slot] = cancelledResult(ordered[slot], 0)
		done++
		m.report(done, total, results[slot])
	}

	m.logSummary(results)
	return results
}

func (m *Manager) report(done, total int, result models.DownloadResult) {
	if m.opts.Progress != nil {
		m.opts.Progress(done, total, result)
	}
}

// process downloads one target with retries and probes the body
func (m *Manager) process(ctx context.Context, workerID int, target models.ResolvedTarget) models.DownloadResult {
	attempts := 0
	img, err := retry.DoWithResult(func() (*fetch.Image, error) {
		attempts++
		reqCtx, cancel := m.requestContext(ctx)
		defer cancel()
		return m.fetcher.FetchImage(reqCtx, target.URL, m.opts.Referer, m.opts.MaxImageSize)
	}, &retry.Config{
		MaxAttempts: m.opts.RetryAttempts + 1,
		Backoff:     retry.NewExponentialBackoff(m.opts.BackoffBase),
		Context:     ctx,
		Logger:      m.logger.WithField("worker_id", workerID),
	})

	var result models.DownloadResult
	switch {
	case err != nil && ctx.Err() != nil:
		result = cancelledResult(target, attempts)
	case err != nil && errs.Is(err, errs.ErrorTypeTooLarge):
		result = models.DownloadResult{
			Outcome: models.OutcomeSkipped,
			Reason:  "too large: " + err.Error(),
			Err:     err,
		}
	case err != nil:
		result = models.DownloadResult{
			Outcome: models.OutcomeFailed,
			Reason:  err.Error(),
			Err:     err,
		}
	default:
		result = m.accept(img)
	}

	result.Index = target.Descriptor.Index
	result.Target = target
	result.Attempts = attempts

	logger.LogOutcome(m.logger, result.Index, target.URL, string(result.Outcome), result.Size(), result.Err)
	return result
}

func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// accept probes a fetched body; anything that is not an image fails
func (m *Manager) accept(img *fetch.Image) models.DownloadResult {
	info, err := probe.Probe(img.Data)
	if err != nil {
		return models.DownloadResult{
			Outcome: models.OutcomeFailed,
			Reason:  "not an image: " + err.Error(),
			Err:     err,
		}
	}

	contentType := img.ContentType
	if probe.ExtensionForContentType(contentType) == "" {
		contentType = info.MIME
	}

	return models.DownloadResult{
		Outcome:     models.OutcomeSuccess,
		Data:        img.Data,
		ContentType: contentType,
		Format:      info.Format,
		Width:       info.Width,
		Height:      info.Height,
	}
}

func cancelledResult(target models.ResolvedTarget, attempts int) models.DownloadResult {
	return models.DownloadResult{
		Index:    target.Descriptor.Index,
		Target:   target,
		Outcome:  models.OutcomeFailed,
		Reason:   "cancelled",
		Err:      errs.Wrap(errs.ErrorTypeCancelled, "download cancelled", context.Canceled),
		Attempts: attempts,
	}
}

func (m *Manager) logSummary(results []models.DownloadResult) {
	counts := map[models.Outcome]int{}
	var bytes int
	for _, r := range results {
		counts[r.Outcome]++
		bytes += r.Size()
	}
	m.logger.InfoWithFields("download finished", map[string]interface{}{
		"total":     len(results),
		"succeeded": counts[models.OutcomeSuccess],
		"failed":    counts[models.OutcomeFailed],
		"skipped":   counts[models.OutcomeSkipped],
		"bytes":     bytes,
	})
}

// IsCancelled reports whether a result failed because the run was cancelled
func IsCancelled(r models.DownloadResult) bool {
	return r.Outcome == models.OutcomeFailed && errors.Is(r.Err, context.Canceled)
}

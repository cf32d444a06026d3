package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgharvest/internal/downloader"
	"imgharvest/pkg/archive"
	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/fetch"
	"imgharvest/pkg/filter"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
	"imgharvest/pkg/parser"
	"imgharvest/pkg/ratelimit"
	"imgharvest/pkg/resolver"
)

// PageFetcher downloads article markup. *fetch.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string, maxBytes int64) (*fetch.Page, error)
}

// Source is the article to analyze. When Markup is set it is used as is and
// URL only serves as the base for relative image URLs.
type Source struct {
	URL    string
	Markup string
}

// Pipeline runs article analysis and image download jobs
type Pipeline struct {
	cfg      *config.Config
	pages    PageFetcher
	images   downloader.ImageFetcher
	parser   *parser.Parser
	filter   *filter.Filter
	resolver *resolver.Resolver
	builder  *archive.Builder
	progress downloader.ProgressFunc
	logger   logger.Logger
}

// New creates a pipeline with a shared HTTP client and per-host rate limiter
func New(cfg *config.Config, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	limiter := ratelimit.NewHostLimiter(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst)
	client := fetch.NewClient(cfg.Fetch, cfg.Download.MaxWorkers, limiter, log)
	return NewWithFetchers(cfg, client, client, log)
}

// NewWithFetchers creates a pipeline over caller-supplied fetchers
func NewWithFetchers(cfg *config.Config, pages PageFetcher, images downloader.ImageFetcher, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pipeline{
		cfg:      cfg,
		pages:    pages,
		images:   images,
		parser:   parser.New(log, parser.WithChromeMarkers(cfg.Filter.ChromeMarkers...)),
		filter:   filter.New(cfg.Filter),
		resolver: resolver.New(cfg.Resolver, log),
		builder:  archive.NewBuilder(log),
		logger:   log.WithField("component", "pipeline"),
	}
}

// WithProgress returns a copy of the pipeline reporting download progress to fn
func (p *Pipeline) WithProgress(fn downloader.ProgressFunc) *Pipeline {
	clone := *p
	clone.progress = fn
	return &clone
}

// Analyze parses the article, filters its images and resolves the URLs to
// fetch. The returned job lists the kept descriptors as a preview.
func (p *Pipeline) Analyze(ctx context.Context, src Source, opts models.FilterOptions) (*models.Job, error) {
	job := &models.Job{
		ID:        uuid.NewString(),
		Options:   opts,
		CreatedAt: time.Now(),
	}
	log := p.logger.WithField("job_id", job.ID)

	markup := src.Markup
	switch {
	case markup != "":
		job.SourceURL = strings.TrimSpace(src.URL)
	case strings.TrimSpace(src.URL) == "":
		return nil, errs.New(errs.ErrorTypeValidation, "an article URL or markup is required")
	default:
		sourceURL, err := ValidateSourceURL(src.URL, p.cfg.Source.AllowedHosts)
		if err != nil {
			return nil, err
		}

		page, err := p.fetchPage(ctx, sourceURL)
		if err != nil {
			log.WithError(err).Error("failed to fetch article")
			return nil, fmt.Errorf("failed to fetch article: %w", err)
		}
		markup = page.Body
		job.SourceURL = page.FinalURL
		if job.SourceURL == "" {
			job.SourceURL = sourceURL
		}
	}

	parsed, err := p.parser.Parse(markup, job.SourceURL)
	if err != nil {
		return nil, err
	}

	kept, decisions := p.filter.Apply(parsed, opts)
	job.Parsed = parsed
	job.Decisions = decisions
	job.Descriptors = kept
	job.Targets = p.resolver.ResolveAll(kept, opts.PreferOriginal)

	log.InfoWithFields("article analyzed", map[string]interface{}{
		"source":   job.SourceURL,
		"found":    len(parsed),
		"kept":     len(kept),
		"filtered": len(parsed) - len(kept),
	})

	return job, nil
}

func (p *Pipeline) fetchPage(ctx context.Context, sourceURL string) (*fetch.Page, error) {
	if timeout := p.cfg.Download.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.pages.FetchPage(ctx, sourceURL, p.cfg.Fetch.MaxPageSize)
}

// Download fetches the selected kept descriptors and packages the successes.
// An empty selection means every kept descriptor. When nothing succeeds the
// error is errs.ErrArchiveEmpty and the returned archive holds only the
// manifest. Per-item results are also stored on the job.
func (p *Pipeline) Download(ctx context.Context, job *models.Job, selected []int) (*archive.Archive, error) {
	if job == nil {
		return nil, errs.New(errs.ErrorTypeValidation, "job is required")
	}

	targets, err := selectTargets(job, selected)
	if err != nil {
		return nil, err
	}

	if timeout := p.cfg.Download.JobTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	manager := downloader.NewManager(p.images, downloader.OptionsFromConfig(p.cfg.Download), p.logger).
		WithReferer(job.SourceURL).
		WithProgress(p.progress)

	job.Results = manager.Download(ctx, targets)

	a, err := p.builder.Build(job.Results)
	if a != nil {
		a.Manifest.JobID = job.ID
		a.Manifest.SourceURL = job.SourceURL
	}
	return a, err
}

// selectTargets maps caller indices onto the job's resolved targets
func selectTargets(job *models.Job, selected []int) ([]models.ResolvedTarget, error) {
	if len(selected) == 0 {
		return slices.Clone(job.Targets), nil
	}

	indices := slices.Clone(selected)
	slices.Sort(indices)
	indices = slices.Compact(indices)

	targets := make([]models.ResolvedTarget, 0, len(indices))
	var unknown []int
	for _, index := range indices {
		target, ok := job.Target(index)
		if !ok {
			unknown = append(unknown, index)
			continue
		}
		targets = append(targets, target)
	}

	if len(unknown) > 0 {
		return nil, errs.New(errs.ErrorTypeValidation, fmt.Sprintf("selected indices %v are not kept images", unknown))
	}
	return targets, nil
}

// ValidateSourceURL completes a missing scheme with https and checks the URL
// against allowedHosts. An empty list accepts any host.
func ValidateSourceURL(raw string, allowedHosts []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errs.New(errs.ErrorTypeValidation, "article URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeValidation, "invalid article URL", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errs.New(errs.ErrorTypeValidation, fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return "", errs.New(errs.ErrorTypeValidation, "article URL has no host")
	}

	if len(allowedHosts) > 0 && !hostAllowed(u.Hostname(), allowedHosts) {
		return "", errs.New(errs.ErrorTypeValidation, fmt.Sprintf("host %s is not allowed", u.Hostname()))
	}

	return u.String(), nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && (host == a || strings.HasSuffix(host, "."+a)) {
			return true
		}
	}
	return false
}

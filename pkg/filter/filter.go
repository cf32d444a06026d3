package filter

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"imgharvest/pkg/config"
	"imgharvest/pkg/models"
)

// formatParams are query keys that CDNs use to declare the served format
var formatParams = []string{"wx_fmt", "fmt", "format"}

// Filter classifies descriptors as keep or skip. It holds only immutable
// configuration, so Decide is a pure function of its arguments.
type Filter struct {
	keywords         []string
	minDimension     int
	animated         map[string]struct{}
	thumbnailMarkers []string
}

// New builds a filter from the filter config section
func New(cfg config.FilterConfig) *Filter {
	f := &Filter{
		minDimension: cfg.MinDimension,
		animated:     make(map[string]struct{}, len(cfg.AnimatedExtensions)),
	}
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.keywords = append(f.keywords, k)
		}
	}
	for _, ext := range cfg.AnimatedExtensions {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			f.animated[ext] = struct{}{}
		}
	}
	for _, m := range cfg.ThumbnailMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			f.thumbnailMarkers = append(f.thumbnailMarkers, m)
		}
	}
	return f
}

// Decide applies the rules in fixed order; the first veto wins
func (f *Filter) Decide(d models.ImageDescriptor, opts models.FilterOptions) models.FilterDecision {
	decision := models.FilterDecision{Index: d.Index, Keep: true}

	if d.Region.IsChrome() {
		return skip(decision, models.RulePosition, fmt.Sprintf("inside page %s", d.Region))
	}

	lowerURL := strings.ToLower(d.URL)

	if opts.ExcludeAvatars {
		if kw, ok := f.matchKeyword(strings.ToLower(d.Alt), lowerURL); ok {
			return skip(decision, models.RuleSemantic, fmt.Sprintf("matches keyword %q", kw))
		}
	}

	if opts.ExcludeGifs {
		if ext := DeclaredFormat(d.URL); ext != "" {
			if _, ok := f.animated[ext]; ok {
				return skip(decision, models.RuleFormat, fmt.Sprintf("animated format %s", ext))
			}
		}
	}

	if opts.ExcludeSmall {
		if d.Width != nil && *d.Width < f.minDimension {
			return skip(decision, models.RuleSize, fmt.Sprintf("width %d below %d", *d.Width, f.minDimension))
		}
		if d.Height != nil && *d.Height < f.minDimension {
			return skip(decision, models.RuleSize, fmt.Sprintf("height %d below %d", *d.Height, f.minDimension))
		}
		if marker, ok := f.matchThumbnail(lowerURL); ok {
			return skip(decision, models.RuleSize, fmt.Sprintf("thumbnail marker %q", marker))
		}
	}

	return decision
}

// Apply decides every descriptor and returns the kept ones in input order
// along with one decision per input descriptor
func (f *Filter) Apply(ds []models.ImageDescriptor, opts models.FilterOptions) ([]models.ImageDescriptor, []models.FilterDecision) {
	kept := make([]models.ImageDescriptor, 0, len(ds))
	decisions := make([]models.FilterDecision, 0, len(ds))
	for _, d := range ds {
		decision := f.Decide(d, opts)
		decisions = append(decisions, decision)
		if decision.Keep {
			kept = append(kept, d)
		}
	}
	return kept, decisions
}

func (f *Filter) matchKeyword(alt, lowerURL string) (string, bool) {
	for _, kw := range f.keywords {
		if strings.Contains(alt, kw) || strings.Contains(lowerURL, kw) {
			return kw, true
		}
	}
	return "", false
}

// matchThumbnail checks markers against the URL path only, so hosts and
// query strings cannot trigger it. Markers starting with "/" must end a
// path segment.
func (f *Filter) matchThumbnail(lowerURL string) (string, bool) {
	p := lowerURL
	if u, err := url.Parse(lowerURL); err == nil {
		p = u.Path
	}
	for _, m := range f.thumbnailMarkers {
		if !strings.HasPrefix(m, "/") {
			if strings.Contains(p, m) {
				return m, true
			}
			continue
		}
		for rest := p; ; {
			i := strings.Index(rest, m)
			if i < 0 {
				break
			}
			after := rest[i+len(m):]
			if after == "" || after[0] == '/' {
				return m, true
			}
			rest = rest[i+1:]
		}
	}
	return "", false
}

// DeclaredFormat returns the lowercased image format a URL declares through
// a format query parameter or its path extension, or "" if none.
func DeclaredFormat(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range formatParams {
		if v := strings.ToLower(strings.TrimSpace(q.Get(key))); v != "" {
			return v
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	return ext
}

func skip(d models.FilterDecision, rule models.Rule, reason string) models.FilterDecision {
	d.Keep = false
	d.Rule = rule
	d.Reason = reason
	return d
}

// OptionsFromConfig returns the default filter options configured in cfg
func OptionsFromConfig(cfg config.FilterConfig) models.FilterOptions {
	return models.FilterOptions{
		ExcludeAvatars: cfg.ExcludeAvatars,
		ExcludeGifs:    cfg.ExcludeGifs,
		ExcludeSmall:   cfg.ExcludeSmall,
		PreferOriginal: cfg.PreferOriginal,
	}
}

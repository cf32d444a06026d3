package resolver

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
)

var (
	sinaSizeSegment = regexp.MustCompile(`^(thumb\d+|thumbnail|mw\d+|orj\d+|wap\d+|bmiddle|small|square|middle|crop\.[^/]+)$`)
	zhihuSuffix     = regexp.MustCompile(`^(.+?)_(\d+w|\d+x\d+|b|hd|qhd|l|xl|xll|s|xs|m|is|ipico)(\.[A-Za-z0-9]+)$`)
	photonHost      = regexp.MustCompile(`^i[0-3]\.wp\.com$`)

	photonParams  = []string{"w", "h", "resize", "fit", "quality", "strip", "ssl", "zoom"}
	genericParams = []string{"w", "h", "width", "height", "q", "quality", "fit", "crop", "auto", "dpr", "s"}
)

// rule rewrites URLs on matching hosts toward the original asset
type rule struct {
	name    string
	matches func(host string) bool
	rewrite func(u *url.URL)
}

// Resolver maps CDN display URLs to their original-resolution form. It does
// no I/O; every rewrite is a pure string transform.
type Resolver struct {
	rules  []rule
	logger logger.Logger
}

// New creates a resolver with the built-in CDN rules plus the configured
// generic query-parameter hosts. A nil logger falls back to the global one.
func New(cfg config.ResolverConfig, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}

	genericHosts := make([]string, 0, len(cfg.GenericQueryHosts))
	for _, h := range cfg.GenericQueryHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			genericHosts = append(genericHosts, h)
		}
	}

	return &Resolver{
		rules: []rule{
			{name: "wechat", matches: hostIn("mmbiz.qpic.cn", "mmbiz.qlogo.cn"), rewrite: rewriteWeChat},
			{name: "sina", matches: hostIn("sinaimg.cn"), rewrite: rewriteSina},
			{name: "zhihu", matches: hostIn("zhimg.com"), rewrite: rewriteZhihu},
			{name: "photon", matches: photonHost.MatchString, rewrite: dropParams(photonParams)},
			{name: "generic", matches: hostIn(genericHosts...), rewrite: dropParams(genericParams)},
		},
		logger: log.WithField("component", "resolver"),
	}
}

// Resolve returns the URL to fetch for d. With preferOriginal false, or for
// hosts without a rule, the descriptor URL is returned unchanged.
func (r *Resolver) Resolve(d models.ImageDescriptor, preferOriginal bool) models.ResolvedTarget {
	target := models.ResolvedTarget{Descriptor: d, URL: d.URL}

	if preferOriginal {
		if resolved, ruleName, ok := r.rewrite(d.URL); ok {
			target.URL = resolved
			if resolved != d.URL {
				r.logger.DebugWithFields("resolved original URL", map[string]interface{}{
					"index": d.Index,
					"rule":  ruleName,
					"from":  d.URL,
					"to":    resolved,
				})
			}
		} else {
			r.logger.InfoWithFields("no original-URL rule for host, using URL as is", map[string]interface{}{
				"index": d.Index,
				"url":   d.URL,
				"type":  string(errs.ErrorTypeResolutionFallback),
			})
		}
	}

	target.Extension = Extension(target.URL)
	return target
}

// ResolveAll resolves every descriptor, preserving order
func (r *Resolver) ResolveAll(ds []models.ImageDescriptor, preferOriginal bool) []models.ResolvedTarget {
	targets := make([]models.ResolvedTarget, len(ds))
	for i, d := range ds {
		targets[i] = r.Resolve(d, preferOriginal)
	}
	return targets
}

func (r *Resolver) rewrite(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, rl := range r.rules {
		if !rl.matches(host) {
			continue
		}
		rl.rewrite(u)
		resolved := u.String()
		if resolved == "" {
			return raw, rl.name, true
		}
		return resolved, rl.name, true
	}
	return raw, "", false
}

// Extension infers the file extension from wx_fmt or the URL path, or ""
func Extension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ext := models.ExtensionForFormat(u.Query().Get("wx_fmt")); ext != "" {
		return ext
	}
	return models.ExtensionForFormat(path.Ext(u.Path))
}

// hostIn matches a host equal to, or a subdomain of, any of the domains
func hostIn(domains ...string) func(string) bool {
	return func(host string) bool {
		for _, d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
		return false
	}
}

// rewriteWeChat keeps only wx_fmt and asks for the unscaled size, which the
// CDN serves under the "0" size segment
func rewriteWeChat(u *url.URL) {
	q := u.Query()
	kept := url.Values{}
	if f := q.Get("wx_fmt"); f != "" {
		kept.Set("wx_fmt", f)
	}
	u.RawQuery = kept.Encode()

	dir, last := path.Split(u.Path)
	if _, err := strconv.Atoi(last); err == nil && last != "0" && dir != "" {
		u.Path = dir + "0"
		u.RawPath = ""
	}
}

// rewriteSina replaces the size segment, e.g. /mw690/ or /thumb150/, with /large/
func rewriteSina(u *url.URL) {
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if sinaSizeSegment.MatchString(seg) {
			segments[i] = "large"
			u.Path = strings.Join(segments, "/")
			u.RawPath = ""
			return
		}
	}
}

// rewriteZhihu turns name_720w.jpg or name_b.jpg into name_r.jpg
func rewriteZhihu(u *url.URL) {
	dir, file := path.Split(u.Path)
	if m := zhihuSuffix.FindStringSubmatch(file); m != nil {
		u.Path = dir + m[1] + "_r" + m[3]
		u.RawPath = ""
	}
}

func dropParams(params []string) func(u *url.URL) {
	return func(u *url.URL) {
		if u.RawQuery == "" {
			return
		}
		q := u.Query()
		for _, p := range params {
			q.Del(p)
		}
		u.RawQuery = q.Encode()
	}
}

package parser

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
)

// lazyAttributes are checked in order after srcset and before src
var lazyAttributes = []string{"data-src", "data-original", "data-actualsrc", "data-lazy-src"}

var (
	styleWidth  = regexp.MustCompile(`(?i)(?:^|;)\s*width\s*:\s*(\d+(?:\.\d+)?)px`)
	styleHeight = regexp.MustCompile(`(?i)(?:^|;)\s*height\s*:\s*(\d+(?:\.\d+)?)px`)
)

// Parser extracts image descriptors from article markup
type Parser struct {
	chromeMarkers map[string]struct{}
	logger        logger.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithChromeMarkers classifies images under an element whose id or one of
// whose class names equals a marker as page chrome. Matching ignores case.
func WithChromeMarkers(markers ...string) Option {
	return func(p *Parser) {
		for _, m := range markers {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				p.chromeMarkers[m] = struct{}{}
			}
		}
	}
}

// New creates a parser. A nil logger falls back to the global one.
func New(log logger.Logger, opts ...Option) *Parser {
	if log == nil {
		log = logger.GetLogger()
	}
	p := &Parser{
		chromeMarkers: make(map[string]struct{}),
		logger:        log.WithField("component", "parser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candidate is one possible URL for an <img>, in priority order
type candidate struct {
	raw  string
	attr string
	lazy bool
}

// Parse returns the images in markup in document order, deduplicated by
// normalized URL. Relative URLs are resolved against baseURL. Elements with
// no usable URL are skipped; only an unreadable document is an error.
func (p *Parser) Parse(markup string, baseURL string) ([]models.ImageDescriptor, error) {
	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeParsing, "invalid base URL", err)
		}
		base = u
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to read markup", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if base != nil {
				u = base.ResolveReference(u)
			}
			if u.IsAbs() {
				base = u
			}
		}
	}

	seen := make(map[string]struct{})
	descriptors := make([]models.ImageDescriptor, 0)
	skipped := 0

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		chosen, normalized, ok := p.pickURL(s, base)
		if !ok {
			skipped++
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}

		width, height := dimensions(s)
		descriptors = append(descriptors, models.ImageDescriptor{
			Index:      len(descriptors),
			URL:        normalized,
			Alt:        strings.TrimSpace(s.AttrOr("alt", "")),
			Width:      width,
			Height:     height,
			Region:     p.regionOf(s),
			LazyLoaded: chosen.lazy,
		})
	})

	p.logger.DebugWithFields("parsed article markup", map[string]interface{}{
		"images":  len(descriptors),
		"skipped": skipped,
	})

	return descriptors, nil
}

// pickURL returns the highest-priority candidate that normalizes cleanly
func (p *Parser) pickURL(s *goquery.Selection, base *url.URL) (candidate, string, bool) {
	var candidates []candidate

	if best, ok := widestSrcset(s.AttrOr("data-srcset", ""), s.AttrOr("srcset", "")); ok {
		candidates = append(candidates, best)
	}
	for _, attr := range lazyAttributes {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			candidates = append(candidates, candidate{raw: v, attr: attr, lazy: true})
		}
	}
	if v := strings.TrimSpace(s.AttrOr("src", "")); v != "" {
		candidates = append(candidates, candidate{raw: v, attr: "src"})
	}

	for _, c := range candidates {
		normalized, err := Normalize(c.raw, base)
		if err != nil {
			p.logger.DebugWithFields("ignoring image attribute", map[string]interface{}{
				"attr":   c.attr,
				"value":  truncate(c.raw, 80),
				"reason": err.Error(),
			})
			continue
		}
		return c, normalized, true
	}

	p.logger.Debug("skipping <img> without a usable URL")
	return candidate{}, "", false
}

// Normalize resolves raw against base and canonicalizes it: lowercased
// scheme and host, no fragment. Only http and https URLs are accepted.
func Normalize(raw string, base *url.URL) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errs.New(errs.ErrorTypeParsing, "empty URL")
	}
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return "", errs.New(errs.ErrorTypeParsing, "inline data URI")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeParsing, "unparsable URL", err)
	}

	if base != nil {
		u = base.ResolveReference(u)
	} else if u.Scheme == "" && u.Host != "" {
		u.Scheme = "https"
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errs.New(errs.ErrorTypeParsing, "unsupported scheme "+strconv.Quote(u.Scheme))
	}
	if u.Host == "" {
		return "", errs.New(errs.ErrorTypeParsing, "relative URL without base")
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// widestSrcset returns the largest candidate across the given srcset values.
// data-srcset comes first so it wins ties.
func widestSrcset(values ...string) (candidate, bool) {
	var (
		best      candidate
		bestScore = -1.0
	)
	for i, value := range values {
		attr, lazy := "data-srcset", true
		if i > 0 {
			attr, lazy = "srcset", false
		}
		for _, entry := range splitSrcset(value) {
			if strings.HasPrefix(strings.ToLower(entry.url), "data:") {
				continue
			}
			if entry.score > bestScore {
				best = candidate{raw: entry.url, attr: attr, lazy: lazy}
				bestScore = entry.score
			}
		}
	}
	return best, bestScore >= 0
}

type srcsetEntry struct {
	url   string
	score float64
}

// splitSrcset tokenizes a srcset attribute. URLs may contain commas, so a
// candidate ends at whitespace and its descriptors run to the next comma.
func splitSrcset(value string) []srcsetEntry {
	var entries []srcsetEntry
	rest := value
	for {
		rest = strings.TrimLeft(rest, " \t\n\r\f,")
		if rest == "" {
			return entries
		}

		end := strings.IndexAny(rest, " \t\n\r\f")
		var rawURL, descriptor string
		if end < 0 {
			rawURL, rest = rest, ""
		} else {
			rawURL, rest = rest[:end], rest[end:]
		}

		if strings.HasSuffix(rawURL, ",") {
			rawURL = strings.TrimRight(rawURL, ",")
		} else if comma := strings.IndexByte(rest, ','); comma >= 0 {
			descriptor, rest = rest[:comma], rest[comma+1:]
		} else {
			descriptor, rest = rest, ""
		}

		if rawURL == "" {
			continue
		}
		entries = append(entries, srcsetEntry{url: rawURL, score: descriptorScore(descriptor)})
	}
}

// descriptorScore ranks "800w" by width and "2x" by density; bare URLs count as 1x
func descriptorScore(descriptor string) float64 {
	score := 1.0
	for _, field := range strings.Fields(descriptor) {
		n, err := strconv.ParseFloat(field[:len(field)-1], 64)
		if err != nil || n <= 0 {
			continue
		}
		switch field[len(field)-1] {
		case 'w', 'W':
			return n
		case 'x', 'X':
			score = n
		}
	}
	return score
}

// dimensions reads declared width and height from attributes, inline style
// and the data-w/data-ratio hints used by some article engines
func dimensions(s *goquery.Selection) (*int, *int) {
	width := parseLength(s.AttrOr("width", ""))
	height := parseLength(s.AttrOr("height", ""))

	style := s.AttrOr("style", "")
	if width == nil {
		width = matchLength(styleWidth, style)
	}
	if height == nil {
		height = matchLength(styleHeight, style)
	}

	if width == nil {
		width = parseLength(s.AttrOr("data-w", ""))
	}
	if width != nil && height == nil {
		if ratio, err := strconv.ParseFloat(strings.TrimSpace(s.AttrOr("data-ratio", "")), 64); err == nil && ratio > 0 {
			h := int(math.Round(float64(*width) * ratio))
			height = &h
		}
	}
	return width, height
}

func parseLength(v string) *int {
	v = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(v)), "px")
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func matchLength(re *regexp.Regexp, style string) *int {
	m := re.FindStringSubmatch(style)
	if m == nil {
		return nil
	}
	return parseLength(m[1])
}

// regionOf walks up from the image to the nearest landmark. A header or
// footer nested in an article or main element belongs to the content.
// Chrome markers end the walk like nav and aside do.
func (p *Parser) regionOf(s *goquery.Selection) models.Region {
	if len(s.Nodes) == 0 {
		return models.RegionContent
	}
	region := models.RegionContent
	for n := s.Nodes[0].Parent; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if p.isChromeMarked(n) {
			return models.RegionChrome
		}
		switch landmark(n) {
		case models.RegionContent:
			return models.RegionContent
		case models.RegionNav:
			return models.RegionNav
		case models.RegionAside:
			return models.RegionAside
		case models.RegionHeader:
			if region == models.RegionContent {
				region = models.RegionHeader
			}
		case models.RegionFooter:
			if region == models.RegionContent {
				region = models.RegionFooter
			}
		}
	}
	return region
}

// landmark maps an element to the region it opens, or "" for plain elements
func landmark(n *html.Node) models.Region {
	switch n.DataAtom {
	case atom.Article, atom.Main:
		return models.RegionContent
	case atom.Header:
		return models.RegionHeader
	case atom.Footer:
		return models.RegionFooter
	case atom.Nav:
		return models.RegionNav
	case atom.Aside:
		return models.RegionAside
	}
	switch strings.ToLower(attr(n, "role")) {
	case "main", "article":
		return models.RegionContent
	case "banner":
		return models.RegionHeader
	case "contentinfo":
		return models.RegionFooter
	case "navigation":
		return models.RegionNav
	case "complementary":
		return models.RegionAside
	}
	return ""
}

// isChromeMarked reports whether the id or a class name of n is a chrome marker
func (p *Parser) isChromeMarked(n *html.Node) bool {
	if len(p.chromeMarkers) == 0 {
		return false
	}
	if _, ok := p.chromeMarkers[strings.ToLower(strings.TrimSpace(attr(n, "id")))]; ok {
		return true
	}
	for _, class := range strings.Fields(attr(n, "class")) {
		if _, ok := p.chromeMarkers[strings.ToLower(class)]; ok {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

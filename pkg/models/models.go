package models

import (
	"strings"
	"time"
)

// Region is the part of the page layout an image was found in
type Region string

const (
	RegionContent Region = "content"
	RegionHeader  Region = "header"
	RegionFooter  Region = "footer"
	RegionNav     Region = "nav"
	RegionAside   Region = "aside"
	RegionChrome  Region = "chrome"
)

// IsChrome reports whether the region is page chrome rather than article body
func (r Region) IsChrome() bool {
	return r == RegionHeader || r == RegionFooter || r == RegionNav || r == RegionChrome
}

// ImageDescriptor is one image reference found in the article markup.
// Index is dense and in document order.
type ImageDescriptor struct {
	Index      int    `json:"index"`
	URL        string `json:"url"`
	Alt        string `json:"alt,omitempty"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
	Region     Region `json:"region"`
	LazyLoaded bool   `json:"lazy_loaded"`
}

// FilterOptions are the caller's toggles for the classification filter
type FilterOptions struct {
	ExcludeAvatars bool `json:"exclude_avatars" yaml:"exclude_avatars"`
	ExcludeGifs    bool `json:"exclude_gifs" yaml:"exclude_gifs"`
	ExcludeSmall   bool `json:"exclude_small" yaml:"exclude_small"`
	PreferOriginal bool `json:"prefer_original" yaml:"prefer_original"`
}

// DefaultFilterOptions enables every filter and original resolution
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		ExcludeAvatars: true,
		ExcludeGifs:    true,
		ExcludeSmall:   true,
		PreferOriginal: true,
	}
}

// Rule names the filter rule that produced a decision
type Rule string

const (
	RuleNone     Rule = ""
	RulePosition Rule = "position"
	RuleSemantic Rule = "semantic"
	RuleFormat   Rule = "format"
	RuleSize     Rule = "size"
)

// FilterDecision is the verdict for a single descriptor
type FilterDecision struct {
	Index  int    `json:"index"`
	Keep   bool   `json:"keep"`
	Rule   Rule   `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedTarget is a descriptor together with the URL that will be fetched
type ResolvedTarget struct {
	Descriptor ImageDescriptor `json:"descriptor"`
	URL        string          `json:"url"`
	Extension  string          `json:"extension,omitempty"`
}

// Outcome is the final state of one download
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// DownloadResult is the per-item result of the download manager.
// Data and ContentType are only set on success; Reason only on failure or skip.
type DownloadResult struct {
	Index       int
	Target      ResolvedTarget
	Outcome     Outcome
	Data        []byte
	ContentType string
	Reason      string
	Err         error
	Attempts    int

	// filled by probing a successful body
	Format string
	Width  int
	Height int
}

// Size returns the number of body bytes held by the result
func (r DownloadResult) Size() int {
	return len(r.Data)
}

// Succeeded reports whether the result carries image bytes
func (r DownloadResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Job is the state of one harvest request from analysis to archive
type Job struct {
	ID        string
	SourceURL string
	Options   FilterOptions
	CreatedAt time.Time

	// Parsed holds every descriptor found; Descriptors only the kept ones
	Parsed      []ImageDescriptor
	Decisions   []FilterDecision
	Descriptors []ImageDescriptor
	Targets     []ResolvedTarget
	Results     []DownloadResult
}

// Target returns the resolved target for a kept descriptor index
func (j *Job) Target(index int) (ResolvedTarget, bool) {
	for _, t := range j.Targets {
		if t.Descriptor.Index == index {
			return t, true
		}
	}
	return ResolvedTarget{}, false
}

// IntPtr is a helper for building descriptors with declared dimensions
func IntPtr(v int) *int {
	return &v
}

// imageExtensions maps format names and aliases to archive file extensions
var imageExtensions = map[string]string{
	"jpg":  ".jpg",
	"jpeg": ".jpg",
	"pjpg": ".jpg",
	"png":  ".png",
	"apng": ".png",
	"gif":  ".gif",
	"webp": ".webp",
	"bmp":  ".bmp",
	"tiff": ".tiff",
	"tif":  ".tiff",
	"avif": ".avif",
	"heic": ".heic",
	"svg":  ".svg",
	"ico":  ".ico",
}

// ExtensionForFormat returns the file extension for an image format name
// such as "jpeg" or ".PNG", or "" when the format is not an image format.
func ExtensionForFormat(format string) string {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	return imageExtensions[format]
}

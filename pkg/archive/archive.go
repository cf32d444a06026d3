package archive

import (
	"archive/zip"
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"time"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
	"imgharvest/pkg/probe"
	"imgharvest/pkg/resolver"
)

// DefaultExtension is used when nothing else identifies the image type
const DefaultExtension = ".jpg"

// entryTime is stamped on every zip entry so identical inputs give identical bytes
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry records the outcome of one descriptor in the manifest
type Entry struct {
	Index       int            `json:"index"`
	FileName    string         `json:"file_name,omitempty"`
	URL         string         `json:"url"`
	OriginalURL string         `json:"original_url"`
	Alt         string         `json:"alt,omitempty"`
	Outcome     models.Outcome `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	Size        int            `json:"size,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Format      string         `json:"format,omitempty"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
}

// Manifest maps every archive file back to its position in the article and
// lists the items that were not archived
type Manifest struct {
	JobID     string  `json:"job_id,omitempty"`
	SourceURL string  `json:"source_url,omitempty"`
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Entries   []Entry `json:"entries"`
}

// JSON returns the indented manifest document
func (m *Manifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Archive is a built zip blob and its manifest. Data is nil when no image
// succeeded; the manifest is still complete.
type Archive struct {
	Data     []byte
	Manifest *Manifest
}

// Files returns the archive entry names in order
func (a *Archive) Files() []string {
	var names []string
	for _, e := range a.Manifest.Entries {
		if e.FileName != "" {
			names = append(names, e.FileName)
		}
	}
	return names
}

// Builder packages successful downloads into a zip archive
type Builder struct {
	logger logger.Logger
}

// NewBuilder creates an archive builder. A nil logger falls back to the global one.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Builder{logger: log.WithField("component", "archive")}
}

// Build writes every successful result, in index order, as image_NNN<ext>
// where NNN is index+1. Failed and skipped results appear only in the
// manifest. With no successful result it returns errs.ErrArchiveEmpty
// together with an Archive that carries only the manifest.
func (b *Builder) Build(results []models.DownloadResult) (*Archive, error) {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b models.DownloadResult) int {
		return cmp.Compare(a.Index, b.Index)
	})

	manifest := &Manifest{
		Total:   len(ordered),
		Entries: make([]Entry, 0, len(ordered)),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, r := range ordered {
		entry := Entry{
			Index:       r.Index,
			URL:         r.Target.URL,
			OriginalURL: r.Target.Descriptor.URL,
			Alt:         r.Target.Descriptor.Alt,
			Outcome:     r.Outcome,
			Reason:      r.Reason,
			Attempts:    r.Attempts,
		}

		switch r.Outcome {
		case models.OutcomeSuccess:
			entry.FileName = FileName(r)
			entry.Size = r.Size()
			entry.ContentType = r.ContentType
			entry.Format = r.Format
			entry.Width = r.Width
			entry.Height = r.Height

			if err := writeEntry(zw, entry.FileName, r.Data); err != nil {
				return nil, err
			}
			manifest.Succeeded++
		case models.OutcomeSkipped:
			manifest.Skipped++
		default:
			manifest.Failed++
		}

		manifest.Entries = append(manifest.Entries, entry)
	}

	if manifest.Succeeded == 0 {
		b.logger.WarnWithFields("no image to archive", map[string]interface{}{
			"failed":  manifest.Failed,
			"skipped": manifest.Skipped,
		})
		return &Archive{Manifest: manifest}, errs.ErrArchiveEmpty
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	b.logger.InfoWithFields("archive built", map[string]interface{}{
		"files":   manifest.Succeeded,
		"failed":  manifest.Failed,
		"skipped": manifest.Skipped,
		"bytes":   buf.Len(),
	})

	return &Archive{Data: buf.Bytes(), Manifest: manifest}, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	header.SetMode(0644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}

// FileName returns the archive name for a successful result
func FileName(r models.DownloadResult) string {
	return fmt.Sprintf("image_%03d%s", r.Index+1, extensionFor(r))
}

// extensionFor prefers the served Content-Type, then the probed format, then
// the extension the URL declares
func extensionFor(r models.DownloadResult) string {
	if ext := probe.ExtensionForContentType(r.ContentType); ext != "" {
		return ext
	}
	if ext := models.ExtensionForFormat(r.Format); ext != "" {
		return ext
	}
	if ext := models.ExtensionForFormat(r.Target.Extension); ext != "" {
		return ext
	}
	if ext := resolver.Extension(r.Target.URL); ext != "" {
		return ext
	}
	if ext := models.ExtensionForFormat(path.Ext(r.Target.Descriptor.URL)); ext != "" {
		return ext
	}
	return DefaultExtension
}

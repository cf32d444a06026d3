package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"imgharvest/pkg/archive"
	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

const (
	archiveExt  = ".zip"
	manifestExt = ".manifest.json"
)

// SavedFiles lists the paths written for one job
type SavedFiles struct {
	Archive  string
	Manifest string
}

// Manager writes archives and manifests to the output directory
type Manager struct {
	outputDir     string
	prefix        string
	writeManifest bool
	logger        logger.Logger
}

// NewManager creates a storage manager, creating the output directory if needed
func NewManager(cfg config.OutputConfig, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Directory == "" {
		return nil, errs.New(errs.ErrorTypeValidation, "output directory is required")
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{
		outputDir:     cfg.Directory,
		prefix:        cfg.ArchivePrefix,
		writeManifest: cfg.WriteManifest,
		logger:        log.WithField("component", "storage"),
	}, nil
}

func (m *Manager) baseName(jobID string) string {
	if m.prefix == "" {
		return jobID
	}
	return m.prefix + "_" + jobID
}

// ArchivePath returns where the archive of jobID is written
func (m *Manager) ArchivePath(jobID string) string {
	return filepath.Join(m.outputDir, m.baseName(jobID)+archiveExt)
}

// ManifestPath returns where the manifest of jobID is written
func (m *Manager) ManifestPath(jobID string) string {
	return filepath.Join(m.outputDir, m.baseName(jobID)+manifestExt)
}

func validJobID(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return errs.New(errs.ErrorTypeValidation, fmt.Sprintf("invalid job id %q", jobID))
	}
	return nil
}

// SaveArchive writes the archive, and its manifest when enabled, atomically
func (m *Manager) SaveArchive(jobID string, a *archive.Archive) (*SavedFiles, error) {
	if err := validJobID(jobID); err != nil {
		return nil, err
	}
	if a == nil || len(a.Data) == 0 {
		return nil, errs.ErrArchiveEmpty
	}

	saved := &SavedFiles{Archive: m.ArchivePath(jobID)}
	if err := writeAtomic(saved.Archive, bytes.NewReader(a.Data)); err != nil {
		return nil, err
	}

	if m.writeManifest && a.Manifest != nil {
		path, err := m.saveManifest(jobID, a.Manifest)
		if err != nil {
			return nil, err
		}
		saved.Manifest = path
	}

	m.logger.InfoWithFields("archive saved", map[string]interface{}{
		"job_id":   jobID,
		"path":     saved.Archive,
		"manifest": saved.Manifest,
		"bytes":    len(a.Data),
	})

	return saved, nil
}

// SaveManifest writes only the manifest of jobID. It is the record kept for a
// job whose archive came out empty, so it ignores the write_manifest setting.
func (m *Manager) SaveManifest(jobID string, manifest *archive.Manifest) (string, error) {
	if err := validJobID(jobID); err != nil {
		return "", err
	}
	if manifest == nil {
		return "", errs.New(errs.ErrorTypeValidation, "manifest is required")
	}

	path, err := m.saveManifest(jobID, manifest)
	if err != nil {
		return "", err
	}

	m.logger.InfoWithFields("manifest saved", map[string]interface{}{
		"job_id":  jobID,
		"path":    path,
		"entries": len(manifest.Entries),
	})
	return path, nil
}

func (m *Manager) saveManifest(jobID string, manifest *archive.Manifest) (string, error) {
	data, err := manifest.JSON()
	if err != nil {
		return "", err
	}
	path := m.ManifestPath(jobID)
	if err := writeAtomic(path, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return path, nil
}

// writeAtomic writes to a temporary file and renames it into place
func writeAtomic(filename string, r io.Reader) error {
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filename), err)
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

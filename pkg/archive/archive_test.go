package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
)

func success(index int, url, contentType string, data string) models.DownloadResult {
	return models.DownloadResult{
		Index: index,
		Target: models.ResolvedTarget{
			Descriptor: models.ImageDescriptor{Index: index, URL: url},
			URL:        url,
		},
		Outcome:     models.OutcomeSuccess,
		Data:        []byte(data),
		ContentType: contentType,
	}
}

func failure(index int, outcome models.Outcome, reason string) models.DownloadResult {
	return models.DownloadResult{
		Index:   index,
		Target:  models.ResolvedTarget{URL: "https://cdn.example.com/broken.jpg"},
		Outcome: outcome,
		Reason:  reason,
	}
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string]string)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = string(content)
	}
	return files
}

func TestBuildArchive(t *testing.T) {
	results := []models.DownloadResult{
		failure(2, models.OutcomeSkipped, "too large"),
		success(0, "https://mmbiz.qpic.cn/a/0?wx_fmt=png", "image/png", "first"),
		failure(1, models.OutcomeFailed, "404"),
		success(3, "https://cdn.example.com/photo", "", "fourth"),
	}

	archive, err := NewBuilder(logger.NewNopLogger()).Build(results)
	require.NoError(t, err)

	files := readZip(t, archive.Data)
	assert.Equal(t, map[string]string{
		"image_001.png": "first",
		"image_004.jpg": "fourth",
	}, files)
	assert.Equal(t, []string{"image_001.png", "image_004.jpg"}, archive.Files())

	m := archive.Manifest
	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 2, m.Succeeded)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 1, m.Skipped)
	require.Len(t, m.Entries, 4, "manifest covers every result")
	for i, e := range m.Entries {
		assert.Equal(t, i, e.Index)
	}
	assert.Equal(t, "too large", m.Entries[2].Reason)
	assert.Empty(t, m.Entries[2].FileName)
	assert.Equal(t, 5, m.Entries[0].Size)
}

func TestBuildIsReproducible(t *testing.T) {
	results := []models.DownloadResult{
		success(0, "https://cdn.example.com/a.jpg", "image/jpeg", "aaaa"),
		success(1, "https://cdn.example.com/b.webp", "image/webp", "bbbb"),
	}

	builder := NewBuilder(logger.NewNopLogger())
	first, err := builder.Build(results)
	require.NoError(t, err)
	second, err := builder.Build([]models.DownloadResult{results[1], results[0]})
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestBuildAllFailed(t *testing.T) {
	results := []models.DownloadResult{
		failure(0, models.OutcomeFailed, "timeout"),
		failure(1, models.OutcomeSkipped, "too large"),
	}

	archive, err := NewBuilder(logger.NewNopLogger()).Build(results)
	assert.ErrorIs(t, err, errs.ErrArchiveEmpty)
	assert.True(t, errs.Is(err, errs.ErrorTypeArchiveEmpty))

	require.NotNil(t, archive, "the manifest survives an empty archive")
	assert.Nil(t, archive.Data)
	assert.Empty(t, archive.Files())
	m := archive.Manifest
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 0, m.Succeeded)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 1, m.Skipped)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, models.OutcomeFailed, m.Entries[0].Outcome)
	assert.Equal(t, "timeout", m.Entries[0].Reason)
	assert.Equal(t, models.OutcomeSkipped, m.Entries[1].Outcome)

	empty, err := NewBuilder(logger.NewNopLogger()).Build(nil)
	assert.ErrorIs(t, err, errs.ErrArchiveEmpty)
	require.NotNil(t, empty)
	assert.Equal(t, 0, empty.Manifest.Total)
}

func TestFileNameExtensionPriority(t *testing.T) {
	tests := []struct {
		name     string
		result   models.DownloadResult
		expected string
	}{
		{
			name:     "content type wins",
			result:   success(0, "https://cdn.example.com/a.png", "image/jpeg", ""),
			expected: "image_001.jpg",
		},
		{
			name: "probed format",
			result: func() models.DownloadResult {
				r := success(9, "https://cdn.example.com/a", "application/octet-stream", "")
				r.Format = "webp"
				return r
			}(),
			expected: "image_010.webp",
		},
		{
			name:     "wx_fmt in URL",
			result:   success(99, "https://mmbiz.qpic.cn/a/0?wx_fmt=gif", "", ""),
			expected: "image_100.gif",
		},
		{
			name:     "fallback",
			result:   success(1, "https://cdn.example.com/a.php?id=2", "", ""),
			expected: "image_002.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FileName(tt.result))
		})
	}
}

func TestManifestJSON(t *testing.T) {
	archive, err := NewBuilder(logger.NewNopLogger()).Build([]models.DownloadResult{
		success(0, "https://cdn.example.com/a.jpg", "image/jpeg", "x"),
		failure(1, models.OutcomeFailed, "server error"),
	})
	require.NoError(t, err)
	archive.Manifest.JobID = "job-1"

	data, err := archive.Manifest.JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "job-1", decoded["job_id"])
	entries := decoded["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "image_001.jpg", entries[0].(map[string]interface{})["file_name"])
	assert.Equal(t, "failed", entries[1].(map[string]interface{})["outcome"])
}

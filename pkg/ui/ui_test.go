package ui

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/pkg/models"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetNoColor(true)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetNoColor(false)
		SetQuietMode(false)
	})
	return &buf
}

func TestPrintHelpers(t *testing.T) {
	buf := captureOutput(t)

	PrintInfo("Job", "abc")
	PrintSuccess("done")
	PrintWarning("careful", "slow host")
	PrintError("failed", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Job: abc\n")
	assert.Contains(t, out, "done\n")
	assert.Contains(t, out, "careful: slow host\n")
	assert.Contains(t, out, "failed: boom\n")
	assert.NotContains(t, out, "\033[", "colors are disabled")
}

func TestQuietModeKeepsErrors(t *testing.T) {
	buf := captureOutput(t)
	SetQuietMode(true)
	assert.True(t, IsQuietMode())

	PrintLogo()
	PrintInfo("Job", "abc")
	PrintError("fatal")

	assert.Equal(t, "fatal\n", buf.String())
}

func TestPrintPreview(t *testing.T) {
	buf := captureOutput(t)

	job := &models.Job{
		Parsed: []models.ImageDescriptor{
			{Index: 0, URL: "https://cdn.example.com/logo.png", Region: models.RegionHeader},
			{Index: 1, URL: "https://cdn.example.com/photo.jpg", Width: models.IntPtr(800), Height: models.IntPtr(600)},
		},
		Decisions: []models.FilterDecision{
			{Index: 0, Keep: false, Rule: models.RulePosition, Reason: "inside page header"},
			{Index: 1, Keep: true},
		},
	}
	PrintPreview(job)

	out := buf.String()
	assert.Contains(t, out, "INDEX")
	assert.Contains(t, out, "skip (position: inside page header)")
	assert.Contains(t, out, "800x600")
	assert.Contains(t, out, "https://cdn.example.com/photo.jpg")
}

func TestProgressDisplay(t *testing.T) {
	buf := captureOutput(t)

	p := NewProgressDisplay("job", 3, false)
	p.Update(1, 3, models.DownloadResult{Index: 0, Outcome: models.OutcomeSuccess, Data: make([]byte, 2048)})
	p.Update(2, 3, models.DownloadResult{Index: 1, Outcome: models.OutcomeFailed, Reason: "404"})
	p.Update(3, 3, models.DownloadResult{Index: 2, Outcome: models.OutcomeSkipped, Reason: "too large"})
	p.Complete()

	succeeded, failed, skipped := p.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)

	out := buf.String()
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "Downloaded 1 of 3 images")
	assert.Contains(t, out, "1 downloads failed")
	assert.Contains(t, out, "1 images skipped")
}

func TestProgressDisplayDebug(t *testing.T) {
	buf := captureOutput(t)

	p := NewProgressDisplay("job", 2, true)
	p.Update(1, 2, models.DownloadResult{
		Index:   4,
		Outcome: models.OutcomeSuccess,
		Data:    []byte("abc"),
		Width:   16,
		Height:  12,
		Target:  models.ResolvedTarget{URL: "https://cdn.example.com/a.png"},
	})
	p.Update(2, 2, models.DownloadResult{Index: 5, Outcome: models.OutcomeFailed, Reason: "timeout"})

	out := buf.String()
	assert.Contains(t, out, "#4 • 3 B • 16x12")
	assert.Contains(t, out, "#5 failed: timeout")
}

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	return errors.New("no desktop")
}

func TestNotifier(t *testing.T) {
	buf := captureOutput(t)
	sender := &recordingSender{}
	n := NewNotifierWithSender(sender)

	n.SendSuccess("Archive ready", "2 images")
	n.SendError("Download failed", "no image")

	require.Equal(t, []string{"Archive ready", "Download failed"}, sender.titles)
	assert.Contains(t, buf.String(), "Archive ready: 2 images")
	assert.Contains(t, buf.String(), "Download failed: no image")

	assert.Nil(t, NewNotifier(false).sender)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "-", formatDimensions(models.ImageDescriptor{}))
	assert.Equal(t, "?x40", formatDimensions(models.ImageDescriptor{Height: models.IntPtr(40)}))
}

func TestTerminalDetection(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer file.Close()

	tests := []struct {
		name string
		w    io.Writer
	}{
		{name: "buffer", w: &bytes.Buffer{}},
		{name: "regular file", w: file},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { SetOutput(os.Stdout) })
			SetOutput(tt.w)
			assert.False(t, IsInteractive())
		})
	}
}

func TestNonTerminalOutputIsPlain(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	PrintInfo("Job", "abc")
	p := NewProgressDisplay("job", 2, false)
	p.Update(1, 2, models.DownloadResult{Index: 0, Outcome: models.OutcomeSuccess, Data: []byte("abc")})
	p.Update(2, 2, models.DownloadResult{Index: 1, Outcome: models.OutcomeFailed, Reason: "HTTP 404"})

	out := buf.String()
	assert.NotContains(t, out, "\033[", "no colors without a terminal")
	assert.NotContains(t, out, "\r", "no redrawn line without a terminal")
	assert.Contains(t, out, "Job: abc\n")
	assert.Contains(t, out, "job 1/2 ✓ #0 • 3 B")
	assert.Contains(t, out, "job 2/2 ✗ #1 failed: HTTP 404\n")
}

func TestInteractiveProgressRedraws(t *testing.T) {
	buf := captureOutput(t)
	SetInteractive(true)

	p := NewProgressDisplay("job", 2, false)
	p.Update(1, 2, models.DownloadResult{Index: 0, Outcome: models.OutcomeSuccess, Data: []byte("abc")})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r"))
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "#0")
	assert.NotContains(t, out, "\n")
}

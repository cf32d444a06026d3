package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"imgharvest/pkg/models"
)

// ProgressDisplay renders a single-line download progress bar on a terminal
// and one line per finished download otherwise
type ProgressDisplay struct {
	mu         sync.Mutex
	label      string
	total      int
	done       int
	succeeded  int
	failed     int
	skipped    int
	bytes      int64
	startTime  time.Time
	lastResult string
	isDebug    bool
}

// NewProgressDisplay creates a new progress display
func NewProgressDisplay(label string, total int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		label:     label,
		total:     total,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// Update records one finished download. Its signature matches the
// downloader's progress callback.
func (p *ProgressDisplay) Update(done, total int, result models.DownloadResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	p.bytes += int64(result.Size())

	switch result.Outcome {
	case models.OutcomeSuccess:
		p.succeeded++
	case models.OutcomeSkipped:
		p.skipped++
	default:
		p.failed++
	}

	if p.isDebug || !IsInteractive() {
		p.printResultLine(result)
		return
	}
	p.lastResult = fmt.Sprintf("#%d", result.Index)
	p.printProgress()
}

// printProgress prints the minimal progress line
func (p *ProgressDisplay) printProgress() {
	elapsed := time.Since(p.startTime)

	progress := 0.0
	if p.total > 0 {
		progress = float64(p.done) / float64(p.total)
	}
	barWidth := 20
	filled := int(progress * float64(barWidth))
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %s • %s",
		Cyan(p.label),
		bar,
		p.done,
		p.total,
		formatBytes(p.bytes),
		p.calculateETA(elapsed),
	)

	if p.lastResult != "" {
		line += fmt.Sprintf(" • %s", p.lastResult)
	}

	if p.failed > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", p.failed)))
	}
	if p.skipped > 0 {
		line += fmt.Sprintf(" • %s", Yellow(fmt.Sprintf("%d skipped", p.skipped)))
	}

	printf(false, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// printResultLine prints one line per result, for debug mode and for output
// that is not a terminal
func (p *ProgressDisplay) printResultLine(r models.DownloadResult) {
	prefix := fmt.Sprintf("%s %d/%d", p.label, p.done, p.total)
	switch r.Outcome {
	case models.OutcomeSuccess:
		dims := ""
		if r.Width > 0 && r.Height > 0 {
			dims = fmt.Sprintf(" • %dx%d", r.Width, r.Height)
		}
		printf(false, "%s %s #%d • %s%s • %s\n", prefix, Green("✓"), r.Index, formatBytes(int64(r.Size())), dims, Dim(truncate(r.Target.URL, 60)))
	case models.OutcomeSkipped:
		printf(false, "%s %s #%d skipped: %s\n", prefix, Yellow("•"), r.Index, r.Reason)
	default:
		printf(false, "%s %s #%d failed: %s\n", prefix, Red("✗"), r.Index, r.Reason)
	}
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)

	lead := "\n"
	if !p.isDebug && IsInteractive() {
		lead = "\n\n"
	}
	printf(false, "%s%s Downloaded %d of %d images\n",
		lead,
		Green("✓"),
		p.succeeded,
		p.total,
	)

	printf(false, "  %s %s in %s\n",
		Dim("•"),
		formatBytes(p.bytes),
		formatDuration(elapsed),
	)

	if p.failed > 0 {
		printf(false, "  %s %d downloads failed\n", Dim("•"), p.failed)
	}
	if p.skipped > 0 {
		printf(false, "  %s %d images skipped\n", Dim("•"), p.skipped)
	}
}

// Counts returns the succeeded, failed and skipped totals so far
func (p *ProgressDisplay) Counts() (succeeded, failed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded, p.failed, p.skipped
}

// calculateETA estimates time remaining
func (p *ProgressDisplay) calculateETA(elapsed time.Duration) string {
	if p.done == 0 || elapsed <= 0 {
		return "calculating..."
	}

	rate := float64(p.done) / elapsed.Seconds()
	if rate == 0 {
		return "calculating..."
	}

	remaining := p.total - p.done
	return formatDuration(time.Duration(float64(remaining)/rate) * time.Second)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats bytes in a human-readable way
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

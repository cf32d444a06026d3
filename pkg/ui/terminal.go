package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	"imgharvest/pkg/models"
)

// ASCII logo for the application
const ASCIILogo = `
    ┌─────────────────────────────────────────┐
    │  IMGHARVEST :: article image harvester  │
    └─────────────────────────────────────────┘
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	outMu       sync.Mutex
	out         io.Writer = os.Stdout
	interactive           = isTerminal(os.Stdout)
	quietMode   bool
	noColor     bool
)

// isTerminal reports whether w is a file attached to a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetOutput redirects all terminal output. Colors and the redrawn progress
// line are only used when w is a terminal.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	interactive = isTerminal(w)
}

// SetInteractive overrides terminal detection for the current output
func SetInteractive(on bool) {
	outMu.Lock()
	defer outMu.Unlock()
	interactive = on
}

// IsInteractive reports whether output goes to a terminal
func IsInteractive() bool {
	outMu.Lock()
	defer outMu.Unlock()
	return interactive
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(quiet bool) {
	outMu.Lock()
	defer outMu.Unlock()
	quietMode = quiet
}

// IsQuietMode reports whether quiet mode is on
func IsQuietMode() bool {
	outMu.Lock()
	defer outMu.Unlock()
	return quietMode
}

// SetNoColor disables ANSI colors
func SetNoColor(disabled bool) {
	outMu.Lock()
	defer outMu.Unlock()
	noColor = disabled
}

// colorize returns a function that wraps text with ANSI color codes when the
// output is a terminal and colors are not disabled
func colorize(colorString string) func(string) string {
	return func(text string) string {
		outMu.Lock()
		plain := noColor || !interactive
		outMu.Unlock()
		if plain {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func printf(always bool, format string, args ...interface{}) {
	outMu.Lock()
	w, quiet := out, quietMode
	outMu.Unlock()
	if quiet && !always {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	printf(false, "%s", Cyan(ASCIILogo))
}

// PrintError prints an error message in red, even in quiet mode
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(true, "%s\n", Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(true, "%s\n", Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printf(false, "%s\n", Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	printf(false, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(false, "%s\n", Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(false, "%s\n", Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printf(false, "%s\n", Magenta(msg))
}

// PrintPreview lists every parsed image with its filter verdict
func PrintPreview(job *models.Job) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSTATUS\tSIZE\tURL")

	for i, d := range job.Parsed {
		status := "keep"
		if i < len(job.Decisions) && !job.Decisions[i].Keep {
			status = fmt.Sprintf("skip (%s: %s)", job.Decisions[i].Rule, job.Decisions[i].Reason)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.Index, status, formatDimensions(d), truncate(d.URL, 80))
	}
	tw.Flush()

	printf(false, "%s", b.String())
}

func formatDimensions(d models.ImageDescriptor) string {
	w, h := "?", "?"
	if d.Width != nil {
		w = fmt.Sprint(*d.Width)
	}
	if d.Height != nil {
		h = fmt.Sprint(*d.Height)
	}
	if d.Width == nil && d.Height == nil {
		return "-"
	}
	return w + "x" + h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/storage"
	"imgharvest/pkg/ui"
)

var (
	selection string
	notify    bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download [article-url]",
	Short: "Download the content images of an article into a zip archive",
	Long: `Analyze an article and download the kept images into
<output>/<prefix>_<job-id>.zip, next to a JSON manifest listing the outcome
of every image. Images that fail or exceed the size limit are reported in
the manifest and do not stop the others.`,
	Example: `  # Download every kept image
  imgharvest download https://mp.weixin.qq.com/s/abc123

  # Download only images 3 and 5 from the analyze preview
  imgharvest download https://example.com/post/1 --select 3,5

  # Tune concurrency and limits
  imgharvest download https://example.com/post/1 --max-workers 8 --max-image-size 10485760 -o ./out`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addSourceFlags(downloadCmd)
	addFilterFlags(downloadCmd)

	downloadCmd.Flags().StringVarP(&selection, "select", "s", "", "comma separated image indices to download (default: all kept)")
	downloadCmd.Flags().StringP("output", "o", "", "output directory for archives")
	downloadCmd.Flags().Int("max-workers", 5, "number of concurrent downloads")
	downloadCmd.Flags().Int64("max-image-size", 50*1024*1024, "maximum image size in bytes")
	downloadCmd.Flags().Int("max-retries", 2, "retry attempts for transient failures")
	downloadCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the job finishes")
}

// parseSelection parses "1,3, 5" into indices
func parseSelection(s string) ([]int, error) {
	var indices []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, errs.New(errs.ErrorTypeValidation, fmt.Sprintf("invalid image index %q", part))
		}
		indices = append(indices, n)
	}
	return indices, nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	selected, err := parseSelection(selection)
	if err != nil {
		return err
	}

	store, err := storage.NewManager(cfg.Output, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	p, job, err := analyze(ctx, cfg, log, args)
	if err != nil {
		return err
	}

	ui.PrintInfo("Article", job.SourceURL)
	ui.PrintInfo("Job", job.ID)
	if len(job.Descriptors) == 0 {
		ui.PrintWarning("No content image found")
		return nil
	}

	progress := ui.NewProgressDisplay(shortID(job.ID), selectionTotal(selected, len(job.Descriptors)), verbose)
	notifier := ui.NewNotifier(notify)

	archive, err := p.WithProgress(progress.Update).Download(ctx, job, selected)
	if len(job.Results) > 0 {
		progress.Complete()
	}
	if err != nil {
		if errs.Is(err, errs.ErrorTypeArchiveEmpty) {
			for _, r := range job.Results {
				ui.PrintWarning(fmt.Sprintf("image %d", r.Index), r.Reason)
			}
			if archive != nil {
				path, saveErr := store.SaveManifest(job.ID, archive.Manifest)
				if saveErr != nil {
					return saveErr
				}
				ui.PrintInfo("Manifest", path)
			}
		}
		notifier.SendError("Download failed", err.Error())
		return err
	}

	saved, err := store.SaveArchive(job.ID, archive)
	if err != nil {
		return err
	}

	ui.PrintInfo("Archive", saved.Archive)
	if saved.Manifest != "" {
		ui.PrintInfo("Manifest", saved.Manifest)
	}
	notifier.SendSuccess("Archive ready", fmt.Sprintf("%d images saved to %s", archive.Manifest.Succeeded, saved.Archive))
	return nil
}

// selectionTotal is the number of images a download will report on. Repeated
// indices are downloaded once.
func selectionTotal(selected []int, kept int) int {
	if len(selected) == 0 {
		return kept
	}
	unique := slices.Clone(selected)
	slices.Sort(unique)
	return len(slices.Compact(unique))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

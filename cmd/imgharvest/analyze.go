package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imgharvest/pkg/config"
	"imgharvest/pkg/filter"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
	"imgharvest/pkg/pipeline"
	"imgharvest/pkg/ui"
)

var (
	inputFile  string
	baseURL    string
	jsonOutput bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [article-url]",
	Short: "Preview the images of an article without downloading them",
	Long: `Fetch an article, extract its images and show which ones the filter keeps.

The index column is what the download command's --select flag refers to.`,
	Example: `  # Preview a WeChat article
  imgharvest analyze https://mp.weixin.qq.com/s/abc123

  # Analyze a saved page, resolving relative URLs against its address
  imgharvest analyze --file page.html --base-url https://example.com/post/1

  # Keep GIFs and small images, print JSON
  imgharvest analyze https://example.com/post/1 --exclude-gifs=false --exclude-small=false --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addSourceFlags(analyzeCmd)
	addFilterFlags(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the kept images as JSON")
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "read article markup from a local file instead of fetching it")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "base URL for relative image URLs when using --file")
	cmd.Flags().String("referer", "", "fixed Referer header for image requests (default: the article URL)")
	cmd.Flags().Int("request-timeout", 30, "per-request timeout in seconds")
}

func addFilterFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig().Filter
	cmd.Flags().Bool("exclude-avatars", defaults.ExcludeAvatars, "drop avatars, logos, icons and QR codes")
	cmd.Flags().Bool("exclude-gifs", defaults.ExcludeGifs, "drop animated formats")
	cmd.Flags().Bool("exclude-small", defaults.ExcludeSmall, "drop images declared smaller than the minimum dimension")
	cmd.Flags().Bool("prefer-original", defaults.PreferOriginal, "rewrite CDN URLs to the original resolution")
}

// sourceFromArgs builds the pipeline source from the positional URL or --file
func sourceFromArgs(args []string) (pipeline.Source, error) {
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return pipeline.Source{}, fmt.Errorf("failed to read %s: %w", inputFile, err)
		}
		if len(data) == 0 {
			return pipeline.Source{}, fmt.Errorf("%s is empty", inputFile)
		}
		return pipeline.Source{URL: baseURL, Markup: string(data)}, nil
	}
	if len(args) == 0 {
		return pipeline.Source{}, fmt.Errorf("an article URL or --file is required")
	}
	return pipeline.Source{URL: args[0]}, nil
}

// signalContext is cancelled on interrupt so in-flight downloads stop cleanly
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func analyze(ctx context.Context, cfg *config.Config, log logger.Logger, args []string) (*pipeline.Pipeline, *models.Job, error) {
	src, err := sourceFromArgs(args)
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.New(cfg, log)
	job, err := p.Analyze(ctx, src, filter.OptionsFromConfig(cfg.Filter))
	if err != nil {
		return nil, nil, err
	}
	return p, job, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	_, job, err := analyze(ctx, cfg, log, args)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			JobID  string                   `json:"job_id"`
			Source string                   `json:"source_url"`
			Images []models.ImageDescriptor `json:"images"`
		}{job.ID, job.SourceURL, job.Descriptors})
	}

	ui.PrintInfo("Article", job.SourceURL)
	ui.PrintInfo("Images", fmt.Sprintf("%d found, %d kept", len(job.Parsed), len(job.Descriptors)))
	ui.PrintPreview(job)
	return nil
}

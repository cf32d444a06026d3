package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"imgharvest/pkg/config"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgharvest",
	Short: "Download the content images of an article as a zip archive",
	Long: `imgharvest extracts the images of an article page, drops avatars, icons,
animations and page chrome, resolves original-resolution URLs and downloads
the rest into a single zip archive with a manifest.

Features:
  - Lazy-load aware extraction (data-src, srcset)
  - Rule-based filtering of non-content images
  - Original-resolution URL rewriting for common image CDNs
  - Bounded concurrent downloads with retries and per-host pacing
  - Partial failures reported per image in the manifest`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}

		switch cmd.Name() {
		case "analyze", "download", "imgharvest":
			if !jsonOutput {
				ui.PrintLogo()
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.imgharvest.yaml or ~/.config/imgharvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show logs alongside progress output")

	rootCmd.SetVersionTemplate(`imgharvest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// a bare URL runs the download command
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return runDownload(downloadCmd, args)
		}
		return cmd.Help()
	}
}

// loadConfig loads configuration with command line overrides and initializes
// the global logger. Logs are limited to errors unless verbose output or an
// explicit log level was requested, so they do not garble the progress line.
func loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	flags := collectFlags(cmd)
	if _, set := flags["log-level"]; !set && !verbose {
		flags["log-level"] = "error"
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Debug("imgharvest starting")

	return cfg, log, nil
}

// collectFlags returns the explicitly set flags in the shape config.MergeCommandLineFlags expects
func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	fs := cmd.Flags()

	for _, name := range []string{"max-workers", "request-timeout", "max-retries"} {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			if v, err := fs.GetInt(name); err == nil {
				flags[name] = v
			}
		}
	}
	if fs.Lookup("max-image-size") != nil && fs.Changed("max-image-size") {
		if v, err := fs.GetInt64("max-image-size"); err == nil {
			flags["max-image-size"] = v
		}
	}
	for _, name := range []string{"output", "referer", "log-level"} {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			if v, err := fs.GetString(name); err == nil {
				flags[name] = v
			}
		}
	}
	for _, name := range []string{"exclude-avatars", "exclude-gifs", "exclude-small", "prefer-original"} {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			if v, err := fs.GetBool(name); err == nil {
				flags[name] = v
			}
		}
	}

	return flags
}

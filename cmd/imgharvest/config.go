package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imgharvest/pkg/config"
	"imgharvest/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage imgharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IMGHARVEST_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as '.imgharvest.yaml' in the current directory unless
a different path is given with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from all sources and check it for invalid values.

Besides value ranges this checks that the output and log directories can
be created.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# imgharvest configuration file
#
# Environment variables prefixed with IMGHARVEST_ override these values,
# for example IMGHARVEST_MAX_WORKERS or IMGHARVEST_OUTPUT_DIR.

download:
  # Concurrent image downloads (1-32)
  max_workers: 5
  # Per-request timeout
  request_timeout: 30s
  # Images larger than this are skipped (bytes)
  max_image_size: 52428800
  # Retries for timeouts, 429 and 5xx (0-5)
  retry_attempts: 2
  backoff_base: 500ms
  # Upper bound for a whole download job, 0 disables it
  job_timeout: 10m

fetch:
  user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
  # Fixed Referer for image requests; empty sends the article URL
  referer: ""
  accept_language: "zh-CN,zh;q=0.9,en;q=0.8"
  # Per-host pacing, 0 disables it
  requests_per_second: 10
  burst: 5
  max_page_size: 10485760

filter:
  # Matched against alt text and image URLs
  keywords: [avatar, profile, icon, logo, qrcode, 二维码, 头像, 扫码]
  # Declared width or height below this is "small"
  min_dimension: 100
  animated_extensions: [gif, apng]
  thumbnail_markers: ["/64", "/32", thumb]
  # Element ids and class names whose images are page chrome
  chrome_markers:
    - rich_media_meta_list
    - rich_media_area_extra
    - rich_media_tool
    - profile_container
    - qr_code_pc
    - js_pc_qr_code
    - js_profile_qrcode
    - js_sponsor_ad_area
  exclude_avatars: true
  exclude_gifs: true
  exclude_small: true
  prefer_original: true

resolver:
  # Hosts whose size and quality query parameters are dropped
  generic_query_hosts: [imgix.net, images.unsplash.com, cdn.sanity.io]

source:
  # Accepted article hosts; leave unset to accept any host
  # allowed_hosts: [mp.weixin.qq.com]

output:
  directory: "./downloads"
  archive_prefix: "article_images"
  write_manifest: true

logging:
  # debug, info, warn, error, disabled
  level: "info"
  # Optional log file
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".imgharvest.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "1. Adjust the values you need")
	fmt.Fprintln(cmd.OutOrStdout(), "2. Run 'imgharvest config validate' to check the configuration")
	fmt.Fprintln(cmd.OutOrStdout(), "3. Preview an article with 'imgharvest analyze <url>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var problems []string
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			problems = append(problems, fmt.Sprintf("cannot open log file: %v", err))
		} else {
			f.Close()
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			ui.PrintError("  - " + p)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(problems))
	}

	if cfg.Fetch.RequestsPerSecond == 0 {
		ui.PrintWarning("Per-host rate limiting is disabled")
	}

	ui.PrintSuccess("Configuration is valid")
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Output directory: %s\n", cfg.Output.Directory)
	fmt.Fprintf(out, "  Workers: %d\n", cfg.Download.MaxWorkers)
	fmt.Fprintf(out, "  Request timeout: %s\n", cfg.Download.RequestTimeout)
	fmt.Fprintf(out, "  Max image size: %d bytes\n", cfg.Download.MaxImageSize)
	fmt.Fprintf(out, "  Rate limit: %.1f requests/second per host\n", cfg.Fetch.RequestsPerSecond)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

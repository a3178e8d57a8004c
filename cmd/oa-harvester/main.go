// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the oa-harvester CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/oa-harvester/internal/batch"
	"github.com/pdiddy/oa-harvester/internal/fetch"
	"github.com/pdiddy/oa-harvester/internal/harvester"
	"github.com/pdiddy/oa-harvester/internal/postprocess"
	"github.com/pdiddy/oa-harvester/internal/secrets"
	"github.com/pdiddy/oa-harvester/internal/store"
	"github.com/pdiddy/oa-harvester/pkg/types"
)

// loadedSecrets holds object-store credentials loaded from .secrets/ at
// startup, used only when config.json doesn't set access_key/secret_key
// directly.
var loadedSecrets map[string]string

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "oa-harvester",
	Short: "Resumable parallel harvester for open-access PDFs",
	Long: `oa-harvester resolves OA catalog entries (Unpaywall or PMC) to PDF files,
downloads and validates them, extracts PMC archives, renders thumbnails, and
uploads the results to an object store or a local content-addressed tree.

Exactly one of --unpaywall, --pmc, --reprocess, or --reset selects the run's
mode; --dump, if set, always runs afterward regardless of mode.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().String("unpaywall", "", "harvest from an Unpaywall snapshot (gzipped line-delimited JSON)")
	rootCmd.Flags().String("pmc", "", "harvest from a PMC file list (tab-separated)")
	rootCmd.Flags().Bool("reprocess", false, "retry every entry currently recorded in the fail log")
	rootCmd.Flags().Bool("reset", false, "wipe the persistent store and stray artifacts")
	rootCmd.Flags().Int("sample", 0, "restrict the catalog to a uniform random sample of this many rows")
	rootCmd.Flags().Bool("thumbnail", false, "render front-page thumbnails for successfully fetched PDFs")
	rootCmd.Flags().String("dump", "", "write one JSON entry per line from the store to this path")
	rootCmd.Flags().String("config", "./config.json", "path to the harvester's JSON config file")
	rootCmd.Flags().Bool("increment", false, "accepted for CLI parity with the original harvester; no-op")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	cfgPath, _ := rootCmd.Flags().GetString("config")
	viper.SetConfigFile(cfgPath)
	viper.SetConfigType("json")
	viper.SetEnvPrefix("OA_HARVESTER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig builds HarvestConfig from the config file's raw JSON (so
// Entry-style opaque fields land in Extra unchanged), then overlays the
// known scalar fields from Viper so OA_HARVESTER_-prefixed environment
// variables genuinely override the file, matching the teacher's
// flags-then-Viper-then-default precedence.
func loadConfig() (types.HarvestConfig, error) {
	var cfg types.HarvestConfig

	path := viper.ConfigFileUsed()
	if path == "" {
		return cfg, fmt.Errorf("no config file found")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if v := viper.GetString("data_path"); v != "" {
		cfg.DataPath = v
	}
	if v := viper.GetString("pmc_base"); v != "" {
		cfg.PMCBase = v
	}
	if v := viper.GetString("bucket_name"); v != "" {
		cfg.BucketName = v
	}
	if v := viper.GetString("user_agent"); v != "" {
		cfg.UserAgent = v
	}
	if v := viper.GetInt("batch_size"); v != 0 {
		cfg.BatchSize = v
	}
	if v := viper.GetInt("worker_pool_size"); v != 0 {
		cfg.WorkerPoolSize = v
	}

	return cfg.Resolved(), nil
}

func resolveMode(cmd *cobra.Command) (harvester.Mode, string, error) {
	unpaywall, _ := cmd.Flags().GetString("unpaywall")
	pmc, _ := cmd.Flags().GetString("pmc")
	reprocess, _ := cmd.Flags().GetBool("reprocess")
	reset, _ := cmd.Flags().GetBool("reset")

	selected := 0
	for _, set := range []bool{unpaywall != "", pmc != "", reprocess, reset} {
		if set {
			selected++
		}
	}
	switch {
	case selected == 0:
		return 0, "", fmt.Errorf("select exactly one of --unpaywall, --pmc, --reprocess, --reset")
	case selected > 1:
		return 0, "", fmt.Errorf("--unpaywall, --pmc, --reprocess, and --reset are mutually exclusive")
	case unpaywall != "":
		return harvester.ModeHarvestUnpaywall, unpaywall, nil
	case pmc != "":
		return harvester.ModeHarvestPMC, pmc, nil
	case reprocess:
		return harvester.ModeReprocess, "", nil
	default:
		return harvester.ModeReset, "", nil
	}
}

func run(cmd *cobra.Command, args []string) error {
	s, err := secrets.Load(".secrets/")
	if err != nil {
		return err
	}
	loadedSecrets = s

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mode, catalogPath, err := resolveMode(cmd)
	if err != nil {
		return err
	}
	sample, _ := cmd.Flags().GetInt("sample")
	enableThumbnail, _ := cmd.Flags().GetBool("thumbnail")
	dumpPath, _ := cmd.Flags().GetString("dump")

	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.DataPath, err)
	}

	db, err := store.Open(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	var uploader postprocess.Uploader
	if cfg.ObjectStoreEnabled() {
		uploader, err = newS3UploaderFromConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("configuring object store: %w", err)
		}
	}

	fetcher := &fetch.Fetcher{
		Downloader: fetch.NewHTTPDownloader(cfg.UserAgent),
		Validator:  fetch.NewPdftotextValidator(),
		DataPath:   cfg.DataPath,
		Logger:     os.Stderr,
	}
	pp := &postprocess.PostProcessor{
		Thumbnailer:     postprocess.NewImageMagickThumbnailer(),
		Uploader:        uploader,
		DataPath:        cfg.DataPath,
		EnableThumbnail: enableThumbnail,
		Logger:          os.Stderr,
	}
	engine := &batch.Engine{
		Store:         db,
		Fetcher:       fetcher,
		PostProcessor: pp,
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.WorkerPoolSize,
		DataPath:      cfg.DataPath,
		Logger:        os.Stderr,
	}
	controller := &harvester.Controller{
		Store:     db,
		Engine:    engine,
		PMCBase:   cfg.PMCBase,
		DataPath:  cfg.DataPath,
		BatchSize: cfg.BatchSize,
		Logger:    os.Stderr,
	}

	summary, err := controller.Run(ctx, harvester.Request{
		Mode:        mode,
		CatalogPath: catalogPath,
		SampleK:     sample,
		DumpPath:    dumpPath,
	})
	if err != nil {
		return err
	}

	diag, diagErr := controller.Diagnose()
	if diagErr == nil {
		fmt.Fprintf(os.Stderr, "processed=%d succeeded=%d failed=%d total=%d failing=%d\n",
			summary.Processed, summary.Succeeded, summary.Failed, diag.TotalCount, diag.FailCount)
	}
	return nil
}

func newS3UploaderFromConfig(ctx context.Context, cfg types.HarvestConfig) (postprocess.Uploader, error) {
	opts := postprocess.S3Options{Bucket: cfg.BucketName}
	if raw, ok := cfg.Extra["region"]; ok {
		json.Unmarshal(raw, &opts.Region)
	}
	if raw, ok := cfg.Extra["endpoint"]; ok {
		json.Unmarshal(raw, &opts.Endpoint)
	}
	if raw, ok := cfg.Extra["access_key"]; ok {
		json.Unmarshal(raw, &opts.AccessKey)
	}
	if raw, ok := cfg.Extra["secret_key"]; ok {
		json.Unmarshal(raw, &opts.SecretKey)
	}
	if opts.AccessKey == "" {
		opts.AccessKey = loadedSecrets["object-store-access-key"]
	}
	if opts.SecretKey == "" {
		opts.SecretKey = loadedSecrets["object-store-secret-key"]
	}
	return postprocess.NewS3Uploader(ctx, opts)
}

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"ikh/dicom-share-loader/internal/api"
	"ikh/dicom-share-loader/internal/blob"
	"ikh/dicom-share-loader/internal/config"
	"ikh/dicom-share-loader/internal/loader"
	"ikh/dicom-share-loader/internal/models"
	"ikh/dicom-share-loader/internal/output"
	"ikh/dicom-share-loader/internal/progress"
	"ikh/dicom-share-loader/internal/registry"
	"ikh/dicom-share-loader/internal/store"
	"ikh/dicom-share-loader/internal/viewer"
	"ikh/dicom-share-loader/internal/watcher"
)

// loadSummary is the data part of the JSON printed by load.
type loadSummary struct {
	SessionID string            `json:"session_id,omitempty"`
	Series    []progress.Series `json:"series"`
	Instances int               `json:"instances"`
	Failed    int               `json:"failed"`
	Viewer    viewer.State      `json:"viewer"`
	Targets   *watcher.Result   `json:"targets,omitempty"`
	Manifest  string            `json:"manifest,omitempty"`
}

var loadCmd = &cobra.Command{
	Use:   "load [viewer-url]",
	Short: "Load a share",
	Long: `Load every instance a share token grants access to.

The share is given either as a viewer link carrying shareToken, password,
SeriesInstanceUID and SOPInstanceUID query parameters, or with flags.

Example:
  share-loader load "https://pacs.example.org/viewer?shareToken=abc&SeriesInstanceUID=1.2.3"
  share-loader load --api-url https://pacs.example.org --token abc --password secret
  share-loader load -c config.yaml --token abc --instances 1.2.3.4,1.2.3.5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().String("api-url", "", "share API base URL (overrides api_url and the link origin)")
	loadCmd.Flags().String("token", "", "share token")
	loadCmd.Flags().String("password", "", "share password")
	loadCmd.Flags().String("series", "", "comma separated SeriesInstanceUIDs to load")
	loadCmd.Flags().String("instances", "", "comma separated SOPInstanceUIDs to load")
	loadCmd.Flags().StringP("output", "o", "", "directory for instance blobs (overrides output_dir, empty keeps them in memory)")
	loadCmd.Flags().Int64("concurrency", 0, "maximum concurrent background fetches, 0 for no limit (overrides tail_concurrency)")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.TailConcurrency, _ = cmd.Flags().GetInt64("concurrency")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	nav, err := navigation(cmd, args, cfg)
	if err != nil {
		return err
	}

	blobs, err := openBlobs(cfg.OutputDir)
	if err != nil {
		return err
	}

	client, err := api.NewClient(nav.BaseURL, nav.Share, &http.Client{}, logger)
	if err != nil {
		return err
	}

	frames := registry.New(logger)
	console := viewer.New(frames, logger)
	tracker := progress.New(logger, func(s progress.Series) {
		if s.Total > 0 && s.Done() {
			logger.Info("series loaded", "seriesUid", s.SeriesUID, "total", s.Total, "failed", s.Failed)
			return
		}
		logger.Debug("series progress", "seriesUid", s.SeriesUID, "loaded", s.Loaded, "total", s.Total)
	})

	var manifest *store.ManifestStore
	if cfg.ManifestPath != "" {
		manifest, err = store.NewManifestStore(cfg.ManifestPath)
		if err != nil {
			return err
		}
		defer manifest.Close()
	}

	sessCfg := loader.Config{
		API:             client,
		Blobs:           blobs,
		Progress:        tracker,
		Viewport:        console,
		Navigator:       console,
		Registry:        frames,
		Banner:          console,
		Filter:          nav.Filter,
		TailConcurrency: cfg.TailConcurrency,
		Logger:          logger,
	}
	if manifest != nil {
		sessCfg.Recorder = manifest
	}
	session, err := loader.NewSession(sessCfg)
	if err != nil {
		return err
	}

	if manifest != nil {
		if err := manifest.StartSession(ctx, session.ID, nav.Share.Token); err != nil {
			return err
		}
	}

	// jump to the requested instances once they are loaded
	var targets *watcher.Watcher
	if len(nav.Filter.SOPUIDs) > 0 {
		targets, err = watcher.NewWatcher(cfg, frames, logger)
		if err != nil {
			return err
		}
		for sopUID := range nav.Filter.SOPUIDs {
			targets.Watch(sopUID, func(inst models.DecodedInstance) {
				console.HighlightSeries(inst.SeriesUID)
				console.Reset()
				console.LoadInstance(inst)
			})
		}
		targets.Start(ctx)
	}

	runErr := session.Run(ctx)
	if err := session.Wait(); err != nil {
		logger.Error("background loads failed", "error", err)
	}
	if targets != nil {
		// every fetch has settled, a target that is not loaded now never will be
		targets.CheckTargets()
		targets.Stop()
	}

	summary := loadSummary{
		SessionID: session.ID,
		Series:    tracker.Snapshot(),
		Instances: frames.Len(),
		Failed:    tracker.Failed(),
		Viewer:    console.State(),
		Manifest:  cfg.ManifestPath,
	}
	if targets != nil {
		r := targets.Result()
		summary.Targets = &r
	}

	if manifest != nil {
		// the load context may already be cancelled
		if err := manifest.FinishSession(context.WithoutCancel(ctx), session.ID, summary.Series); err != nil {
			logger.Error("writing manifest failed", "error", err)
		}
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("interrupted: %w", ctx.Err())
	}
	if runErr != nil {
		fmt.Fprintln(cmd.OutOrStdout(), output.Error(runErr, summary))
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), output.Success(summary))
	return nil
}

// loadConfig reads --config when given and applies --manifest.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.ReadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cmd.Flags().Changed("manifest") {
		cfg.ManifestPath, _ = cmd.Flags().GetString("manifest")
	}
	return cfg, nil
}

// navigation reads the share from a viewer link or from flags. Flags win
// over the link.
func navigation(cmd *cobra.Command, args []string, cfg *config.Config) (models.Navigation, error) {
	var nav models.Navigation
	if len(args) == 1 {
		var err error
		nav, err = models.ParseShareURL(args[0])
		if err != nil {
			return models.Navigation{}, err
		}
	} else {
		nav.BaseURL = cfg.ApiUrl
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		nav.BaseURL, _ = flags.GetString("api-url")
	}
	if flags.Changed("token") {
		nav.Share.Token, _ = flags.GetString("token")
	}
	if flags.Changed("password") {
		nav.Share.Password, _ = flags.GetString("password")
	}
	if flags.Changed("series") {
		list, _ := flags.GetString("series")
		nav.Filter.SeriesUIDs = models.SplitUIDs(list)
	}
	if flags.Changed("instances") {
		list, _ := flags.GetString("instances")
		nav.Filter.SOPUIDs = models.SplitUIDs(list)
	}

	if nav.Share.Token == "" {
		return models.Navigation{}, errors.New("either provide a viewer link or use --token")
	}
	if nav.BaseURL == "" {
		return models.Navigation{}, errors.New("no API url: set api_url in the config or use --api-url")
	}
	return nav, nil
}

func openBlobs(dir string) (*blob.Store, error) {
	if dir == "" {
		return blob.NewMemoryStore(), nil
	}
	return blob.NewFileStore(dir)
}

package main

import (
	"context"
	"fmt"

	"github.com/TheEverestLab/coesg-data/internal/config"
	"github.com/TheEverestLab/coesg-data/internal/external"
	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/metrics"
	"github.com/TheEverestLab/coesg-data/internal/notifications"
	"github.com/TheEverestLab/coesg-data/internal/pipeline"
	"github.com/TheEverestLab/coesg-data/internal/publish"
)

// app holds the wired runner and the resources that need closing.
type app struct {
	runner *pipeline.Runner
	mirror *publish.GCSMirror
	log    *logger.Logger
}

func newApp(ctx context.Context, cfg *config.Config, f *flags, log *logger.Logger) (*app, error) {
	a := &app{log: log}

	fetcher := external.NewDataGovClient(log, external.DataGovOptions{
		BaseURL:    cfg.DataGovBaseURL,
		ResourceID: cfg.DataGovResourceID,
		APIKey:     cfg.DataGovAPIKey,
		PageSize:   cfg.DataGovPageSize,
		Timeout:    cfg.HTTPTimeout,
	})

	opts := publish.Options{
		OutputDir: cfg.OutputDir,
		Force:     f.force,
		DryRun:    f.dryRun,
	}

	// Dry runs never touch git or the bucket.
	if cfg.GitEnabled && !f.dryRun {
		committer, err := publish.NewGitCommitter(log, publish.GitOptions{
			RepoDir:     cfg.OutputDir,
			Remote:      cfg.GitRemote,
			Branch:      cfg.GitBranch,
			AuthorName:  cfg.GitAuthorName,
			AuthorEmail: cfg.GitAuthorEmail,
		})
		if err != nil {
			return nil, err
		}
		opts.Committer = committer
	}

	if cfg.GCSBucket != "" && !f.dryRun {
		mirror, err := publish.NewGCSMirror(ctx, log, publish.GCSOptions{
			Bucket:       cfg.GCSBucket,
			Prefix:       cfg.GCSPrefix,
			EmulatorHost: cfg.StorageEmulatorHost,
		})
		if err != nil {
			return nil, err
		}
		a.mirror = mirror
		opts.Mirror = mirror
	}

	publisher, err := publish.NewPublisher(log, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init publisher: %w", err)
	}

	var notifier pipeline.Notifier
	if !f.dryRun {
		notifier = notifications.NewSender(log, cfg.WebhookURL, cfg.BotName)
	}

	a.runner = pipeline.NewRunner(log, fetcher, publisher, notifier, newMetrics(cfg), pipeline.Options{
		Upcoming: cfg.ScheduleUpcoming,
	})
	return a, nil
}

// newMetrics returns nil when no Pushgateway is configured so the runner
// skips recording entirely.
func newMetrics(cfg *config.Config) pipeline.Metrics {
	recorder := metrics.NewRecorder(cfg.PushgatewayURL, metrics.DefaultJob)
	if !recorder.Enabled() {
		return nil
	}
	return recorder
}

func (a *app) Close() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn("Closing storage client failed", "error", err)
		}
	}
}

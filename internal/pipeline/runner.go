// Package pipeline runs one fetch, aggregate and publish cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheEverestLab/coesg-data/internal/aggregator"
	"github.com/TheEverestLab/coesg-data/internal/analytics"
	"github.com/TheEverestLab/coesg-data/internal/bidding"
	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/metrics"
	"github.com/TheEverestLab/coesg-data/internal/models"
	"github.com/TheEverestLab/coesg-data/internal/notifications"
	"github.com/TheEverestLab/coesg-data/internal/publish"
)

// ErrNoRecords is returned when the data source answered with an empty
// dataset. Publishing it would wipe the existing history.
var ErrNoRecords = errors.New("no records returned by data source")

type Fetcher interface {
	FetchRecords(ctx context.Context) ([]models.BidRecord, error)
}

type Publisher interface {
	Publish(ctx context.Context, b publish.Bundle) (*publish.Result, error)
}

type Notifier interface {
	Send(ctx context.Context, msg string)
}

type Metrics interface {
	Observe(s metrics.RunStats)
	Push(ctx context.Context) error
}

type Options struct {
	// Upcoming is the number of future closings in schedule.json.
	Upcoming int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner wires the collaborators of a run. Notifier and Metrics may be nil.
type Runner struct {
	fetcher   Fetcher
	publisher Publisher
	notifier  Notifier
	metrics   Metrics
	opts      Options
	log       *logger.Logger
}

type Report struct {
	RunID          string
	RecordsFetched int
	Rounds         int
	Latest         *models.RoundResult
	Publish        *publish.Result
	Duration       time.Duration
}

func NewRunner(log *logger.Logger, f Fetcher, p Publisher, n Notifier, m Metrics, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Upcoming < 0 {
		opts.Upcoming = 0
	}
	return &Runner{
		fetcher:   f,
		publisher: p,
		notifier:  n,
		metrics:   m,
		opts:      opts,
		log:       log.With("component", "pipeline"),
	}
}

// Run executes a single cycle. Nothing is written when fetching or
// aggregation fails.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.opts.Now()
	rep := &Report{RunID: uuid.NewString()}
	log := r.log.With("run_id", rep.RunID)
	log.Info("Run started")

	err := r.run(ctx, log, start, rep)
	rep.Duration = r.opts.Now().Sub(start)

	r.record(ctx, log, rep, err)
	if err != nil {
		log.Error("Run failed", "error", err, "duration", rep.Duration)
		r.notify(ctx, "COE data run failed: "+err.Error())
		return rep, err
	}
	log.Info("Run finished",
		"records", rep.RecordsFetched,
		"rounds", rep.Rounds,
		"changed", rep.Publish != nil && rep.Publish.Changed,
		"duration", rep.Duration)
	return rep, nil
}

func (r *Runner) run(ctx context.Context, log *logger.Logger, start time.Time, rep *Report) error {
	records, err := r.fetcher.FetchRecords(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	rep.RecordsFetched = len(records)
	if len(records) == 0 {
		return ErrNoRecords
	}
	log.Info("Fetched records", "count", len(records))

	out, err := aggregator.Aggregate(records, start)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	rep.Rounds = len(out.History)
	rep.Latest = out.Latest.LatestRound
	logLatest(log, out.Latest)

	stats := analytics.Build(out.History, start)
	schedule := bidding.BuildSchedule(start, r.opts.Upcoming)

	res, err := r.publisher.Publish(ctx, publish.Bundle{
		Latest:    out.Latest,
		History:   out.History,
		Analytics: &stats,
		Schedule:  &schedule,
	})
	rep.Publish = res
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if res.Changed && len(res.NewRounds) > 0 && rep.Latest != nil && len(res.Written) > 0 {
		r.notify(ctx, "New COE results: "+notifications.RoundSummary(*rep.Latest))
	}
	return nil
}

func (r *Runner) notify(ctx context.Context, msg string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Send(ctx, msg)
}

func (r *Runner) record(ctx context.Context, log *logger.Logger, rep *Report, runErr error) {
	if r.metrics == nil {
		return
	}
	r.metrics.Observe(metrics.RunStats{
		RecordsFetched: rep.RecordsFetched,
		Rounds:         rep.Rounds,
		Published:      rep.Publish != nil && len(rep.Publish.Written) > 0,
		Failed:         runErr != nil,
		Duration:       rep.Duration,
		FinishedAt:     r.opts.Now(),
	})
	if err := r.metrics.Push(ctx); err != nil {
		log.Warn("Metrics push failed", "error", err)
	}
}

func logLatest(log *logger.Logger, snap models.LatestSnapshot) {
	if snap.LatestRound == nil {
		return
	}
	latest := snap.LatestRound
	var parts []string
	for _, cat := range models.Categories {
		p, ok := latest.Prices[cat]
		if !ok {
			continue
		}
		part := fmt.Sprintf("%s=$%s", cat, notifications.FormatSGD(p))
		if snap.PreviousRound != nil {
			if prev, ok := snap.PreviousRound.Prices[cat]; ok {
				part += fmt.Sprintf(" (%+d)", p-prev)
			}
		}
		parts = append(parts, part)
	}
	log.Info("Latest round",
		"round", latest.RoundLabel,
		"closing", latest.BiddingDate.String(),
		"prices", strings.Join(parts, ", "))
}

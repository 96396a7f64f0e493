// Package publish writes the artifacts, decides whether the data changed since
// the last publish and hands changed artifacts to git and the object-store
// mirror.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/TheEverestLab/coesg-data/internal/artifact"
	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/models"
)

// Bundle is everything one run publishes. Analytics and Schedule are optional.
type Bundle struct {
	Latest    models.LatestSnapshot
	History   []models.RoundResult
	Analytics *models.Analytics
	Schedule  *models.Schedule
}

// Committer records published files in version control.
type Committer interface {
	// Dirty reports whether any of paths differ from the last commit, or
	// whether commits have not reached the remote yet.
	Dirty(ctx context.Context, paths []string) (bool, error)
	Commit(ctx context.Context, paths []string, message string) error
}

// Mirror copies published files to a second location, e.g. a CDN bucket.
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// mirrorPendingFile sits in OutputDir from the start of a write until every
// mirror upload succeeded. Its presence forces the next run to republish.
const mirrorPendingFile = ".mirror-pending"

type Options struct {
	// OutputDir is the root the versioned artifact directory is created under.
	OutputDir string
	Force     bool
	DryRun    bool
	Committer Committer
	Mirror    Mirror
}

type Result struct {
	// Changed is set when the history differs from disk or an earlier
	// publish did not reach git or the mirror.
	Changed bool
	// ScheduleChanged is set when the upcoming closings differ from disk.
	ScheduleChanged bool
	Written         []string
	NewRounds       []string
	Committed       bool
	Mirrored        bool
}

type Publisher struct {
	opts Options
	log  *logger.Logger
}

type encodedFile struct {
	name string
	data []byte
}

func NewPublisher(log *logger.Logger, opts Options) (*Publisher, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("output dir is empty")
	}
	return &Publisher{opts: opts, log: log.With("component", "publish")}, nil
}

// Publish writes the bundle when history.json would change, when an earlier
// publish was left incomplete, or when forced. latest.json alone never counts
// as a change because lastUpdated moves on every run. A schedule that moved
// on while history stayed put rewrites schedule.json only.
func (p *Publisher) Publish(ctx context.Context, b Bundle) (*Result, error) {
	files, err := encodeBundle(b)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.opts.OutputDir, artifact.Version)
	historyPath := filepath.Join(dir, artifact.HistoryFile)

	previous, err := os.ReadFile(historyPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read previous history: %w", err)
	}
	prevRounds, err := artifact.ReadHistory(historyPath)
	if err != nil {
		p.log.Warn("Previous history unreadable, treating every round as new", "error", err)
	}

	res := &Result{
		Changed:   !bytes.Equal(previous, files[0].data),
		NewRounds: newRoundIDs(prevRounds, b.History),
	}

	if !res.Changed {
		pending, err := p.pending(ctx, relPaths(files))
		if err != nil {
			return nil, err
		}
		res.Changed = pending
	}

	if b.Schedule != nil {
		res.ScheduleChanged, err = scheduleChanged(filepath.Join(dir, artifact.ScheduleFile), b.Schedule)
		if err != nil {
			p.log.Warn("Previous schedule unreadable, rewriting", "error", err)
			res.ScheduleChanged = true
		}
	}

	full := res.Changed || p.opts.Force
	if !full && !res.ScheduleChanged {
		p.log.Info("No data change, skipping publish", "rounds", len(b.History))
		return res, nil
	}

	message := commitMessage(b)
	if !full {
		files = onlyFile(files, artifact.ScheduleFile)
		message = "Update COE schedule"
	}

	if p.opts.DryRun {
		p.log.Info("Dry run, not writing", "changed", res.Changed, "schedule_changed", res.ScheduleChanged, "new_rounds", res.NewRounds)
		return res, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if p.opts.Mirror != nil {
		if err := writeAtomic(p.markerPath(), nil); err != nil {
			return nil, err
		}
	}

	rel := relPaths(files)
	for i, f := range files {
		target := filepath.Join(dir, f.name)
		if err := writeAtomic(target, f.data); err != nil {
			return nil, err
		}
		res.Written = append(res.Written, rel[i])
		p.log.Info("Wrote artifact", "path", target, "bytes", len(f.data))
	}

	if p.opts.Committer != nil {
		if err := p.opts.Committer.Commit(ctx, rel, message); err != nil {
			return res, fmt.Errorf("commit artifacts: %w", err)
		}
		res.Committed = true
	}

	if p.opts.Mirror != nil {
		for i, f := range files {
			if err := p.opts.Mirror.Upload(ctx, rel[i], f.data); err != nil {
				return res, fmt.Errorf("mirror %s: %w", rel[i], err)
			}
		}
		if err := os.Remove(p.markerPath()); err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("clear mirror marker: %w", err)
		}
		res.Mirrored = true
	}

	return res, nil
}

// pending reports work an earlier run left behind: uncommitted or unpushed
// artifacts, or a mirror upload that never completed.
func (p *Publisher) pending(ctx context.Context, rel []string) (bool, error) {
	if p.opts.Mirror != nil {
		if _, err := os.Stat(p.markerPath()); err == nil {
			p.log.Info("Previous mirror upload incomplete, publishing")
			return true, nil
		}
	}
	if p.opts.Committer != nil {
		dirty, err := p.opts.Committer.Dirty(ctx, rel)
		if err != nil {
			return false, fmt.Errorf("check uncommitted artifacts: %w", err)
		}
		if dirty {
			p.log.Info("History unchanged but artifacts are not committed or pushed, publishing")
			return true, nil
		}
	}
	return false, nil
}

func (p *Publisher) markerPath() string {
	return filepath.Join(p.opts.OutputDir, mirrorPendingFile)
}

// scheduleChanged compares the upcoming closings with schedule.json on disk,
// ignoring generatedAt.
func scheduleChanged(path string, next *models.Schedule) (bool, error) {
	prev, err := artifact.ReadSchedule(path)
	if err != nil {
		return false, err
	}
	if prev == nil {
		return true, nil
	}
	a, err := artifact.Encode(prev.Upcoming)
	if err != nil {
		return false, err
	}
	b, err := artifact.Encode(next.Upcoming)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(a, b), nil
}

func relPaths(files []encodedFile) []string {
	rel := make([]string, len(files))
	for i, f := range files {
		rel[i] = path.Join(artifact.Version, f.name)
	}
	return rel
}

func onlyFile(files []encodedFile, name string) []encodedFile {
	for _, f := range files {
		if f.name == name {
			return []encodedFile{f}
		}
	}
	return nil
}

type payload struct {
	name string
	v    any
}

// encodeBundle returns history first; Publish relies on that ordering.
func encodeBundle(b Bundle) ([]encodedFile, error) {
	history := b.History
	if history == nil {
		history = []models.RoundResult{}
	}

	payloads := []payload{
		{artifact.HistoryFile, history},
		{artifact.LatestFile, b.Latest},
	}
	if b.Analytics != nil {
		payloads = append(payloads, payload{artifact.AnalyticsFile, b.Analytics})
	}
	if b.Schedule != nil {
		payloads = append(payloads, payload{artifact.ScheduleFile, b.Schedule})
	}

	files := make([]encodedFile, 0, len(payloads))
	for _, pl := range payloads {
		data, err := artifact.Encode(pl.v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pl.name, err)
		}
		files = append(files, encodedFile{name: pl.name, data: data})
	}
	return files, nil
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", target, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

func newRoundIDs(previous, current []models.RoundResult) []string {
	seen := make(map[string]bool, len(previous))
	for _, r := range previous {
		seen[r.ID] = true
	}
	var out []string
	for _, r := range current {
		if !seen[r.ID] {
			out = append(out, r.ID)
		}
	}
	return out
}

func commitMessage(b Bundle) string {
	if b.Latest.LatestRound == nil {
		return "Update COE data"
	}
	return fmt.Sprintf("Update COE data (%s)", b.Latest.LatestRound.RoundLabel)
}

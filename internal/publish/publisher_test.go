package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/models"
)

type fakeCommitter struct {
	dirty     bool
	dirtyErr  error
	commitErr error
	commits   []string
	paths     []string
}

func (f *fakeCommitter) Dirty(_ context.Context, _ []string) (bool, error) {
	return f.dirty, f.dirtyErr
}

func (f *fakeCommitter) Commit(_ context.Context, paths []string, message string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, message)
	f.paths = paths
	return nil
}

type fakeMirror struct {
	uploads map[string][]byte
	err     error
}

func (f *fakeMirror) Upload(_ context.Context, name string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[name] = data
	return nil
}

func round(id, label string, date time.Time, priceA int) models.RoundResult {
	return models.RoundResult{
		ID:          id,
		BiddingDate: models.NewTimestamp(date),
		RoundLabel:  label,
		Prices:      map[models.Category]int{models.CategoryA: priceA},
	}
}

func bundle(now time.Time, history ...models.RoundResult) Bundle {
	b := Bundle{
		History:   history,
		Latest:    models.LatestSnapshot{LastUpdated: models.NewTimestamp(now)},
		Analytics: &models.Analytics{TotalRounds: len(history), GeneratedAt: models.NewTimestamp(now)},
		Schedule:  &models.Schedule{Upcoming: []models.ScheduledRound{}, GeneratedAt: models.NewTimestamp(now)},
	}
	if len(history) > 0 {
		b.Latest.LatestRound = &history[0]
	}
	if len(history) > 1 {
		b.Latest.PreviousRound = &history[1]
	}
	return b
}

var (
	jan2 = round("2026-01-2", "Jan 2026 Ex 2", time.Date(2026, 1, 21, 8, 0, 0, 0, time.UTC), 90000)
	feb1 = round("2026-02-1", "Feb 2026 Ex 1", time.Date(2026, 2, 4, 8, 0, 0, 0, time.UTC), 92000)
	t0   = time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
)

func newTestPublisher(t *testing.T, opts Options) *Publisher {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	p, err := NewPublisher(logger.NewNop(), opts)
	require.NoError(t, err)
	return p
}

func TestNewPublisherRequiresOutputDir(t *testing.T) {
	_, err := NewPublisher(logger.NewNop(), Options{})
	require.Error(t, err)
}

func TestPublishFirstRunWritesEverything(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, Options{OutputDir: dir})

	res, err := p.Publish(context.Background(), bundle(t0, feb1, jan2))
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, []string{"2026-02-1", "2026-01-2"}, res.NewRounds)
	assert.ElementsMatch(t, []string{
		"v1/history.json", "v1/latest.json", "v1/analytics.json", "v1/schedule.json",
	}, res.Written)

	for _, name := range []string{"history.json", "latest.json", "analytics.json", "schedule.json"} {
		info, err := os.Stat(filepath.Join(dir, "v1", name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm(), name)
	}

	latest, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(latest), `"lastUpdated": "2026-02-04T10:00:00Z"`)

	entries, err := os.ReadDir(filepath.Join(dir, "v1"))
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no temp files left behind")
}

func TestPublishUnchangedHistorySkips(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, Options{OutputDir: dir})
	ctx := context.Background()

	_, err := p.Publish(ctx, bundle(t0, feb1, jan2))
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)

	res, err := p.Publish(ctx, bundle(t0.Add(6*time.Hour), feb1, jan2))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Written)
	assert.Empty(t, res.NewRounds)

	after, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "latest.json must not be rewritten when history is unchanged")
}

func TestPublishNewRound(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, Options{OutputDir: dir})
	ctx := context.Background()

	_, err := p.Publish(ctx, bundle(t0, jan2))
	require.NoError(t, err)

	res, err := p.Publish(ctx, bundle(t0, feb1, jan2))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"2026-02-1"}, res.NewRounds)
}

func TestPublishForce(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := newTestPublisher(t, Options{OutputDir: dir}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)

	res, err := newTestPublisher(t, Options{OutputDir: dir, Force: true}).Publish(ctx, bundle(t0.Add(time.Hour), feb1))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Len(t, res.Written, 4)

	latest, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(latest), "2026-02-04T11:00:00Z")
}

func TestPublishDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	committer := &fakeCommitter{}
	p := newTestPublisher(t, Options{OutputDir: dir, DryRun: true, Committer: committer})

	res, err := p.Publish(context.Background(), bundle(t0, feb1))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Written)
	assert.Empty(t, committer.commits)

	_, err = os.Stat(filepath.Join(dir, "v1"))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishUncommittedArtifactsRepublish(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := newTestPublisher(t, Options{OutputDir: dir}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)

	committer := &fakeCommitter{dirty: true}
	res, err := newTestPublisher(t, Options{OutputDir: dir, Committer: committer}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Committed)
	assert.Equal(t, []string{"Update COE data (Feb 2026 Ex 1)"}, committer.commits)
	assert.Contains(t, committer.paths, "v1/history.json")
}

func TestPublishDirtyCheckError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := newTestPublisher(t, Options{OutputDir: dir}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)

	committer := &fakeCommitter{dirtyErr: errors.New("not a git repository")}
	_, err = newTestPublisher(t, Options{OutputDir: dir, Committer: committer}).Publish(ctx, bundle(t0, feb1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestPublishCommitError(t *testing.T) {
	committer := &fakeCommitter{commitErr: errors.New("push rejected")}
	mirror := &fakeMirror{}
	p := newTestPublisher(t, Options{Committer: committer, Mirror: mirror})

	res, err := p.Publish(context.Background(), bundle(t0, feb1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push rejected")
	require.NotNil(t, res)
	assert.Len(t, res.Written, 4)
	assert.False(t, res.Committed)
	assert.Empty(t, mirror.uploads, "mirror runs after a successful commit only")
}

func TestPublishMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := &fakeMirror{}
	p := newTestPublisher(t, Options{OutputDir: dir, Mirror: mirror})

	res, err := p.Publish(context.Background(), bundle(t0, feb1))
	require.NoError(t, err)
	assert.True(t, res.Mirrored)
	require.Len(t, mirror.uploads, 4)

	onDisk, err := os.ReadFile(filepath.Join(dir, "v1", "history.json"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, mirror.uploads["v1/history.json"])
}

func TestPublishWithoutOptionalArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, Options{OutputDir: dir})

	res, err := p.Publish(context.Background(), Bundle{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1/history.json", "v1/latest.json"}, res.Written)

	history, err := os.ReadFile(filepath.Join(dir, "v1", "history.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(history))
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "Update COE data", commitMessage(Bundle{}))
	assert.Equal(t, "Update COE data (Feb 2026 Ex 1)", commitMessage(bundle(t0, feb1)))
}

func TestPublishRetriesFailedMirror(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	failing := &fakeMirror{err: errors.New("bucket unavailable")}
	_, err := newTestPublisher(t, Options{OutputDir: dir, Mirror: failing}).Publish(ctx, bundle(t0, feb1))
	require.Error(t, err)

	mirror := &fakeMirror{}
	res, err := newTestPublisher(t, Options{OutputDir: dir, Mirror: mirror}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Mirrored)
	assert.Len(t, mirror.uploads, 4)

	again := &fakeMirror{}
	res, err = newTestPublisher(t, Options{OutputDir: dir, Mirror: again}).Publish(ctx, bundle(t0, feb1))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, again.uploads, "nothing left to upload after a complete publish")
}

func scheduleAt(now time.Time, closings ...time.Time) *models.Schedule {
	s := &models.Schedule{Upcoming: []models.ScheduledRound{}, GeneratedAt: models.NewTimestamp(now)}
	for _, c := range closings {
		s.Upcoming = append(s.Upcoming, models.ScheduledRound{
			ClosingDate:    models.NewTimestamp(c),
			RoundLabel:     c.Format("Jan 2006") + " Ex 1",
			ExerciseNumber: 1,
		})
	}
	return s
}

func TestPublishRewritesMovedSchedule(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	oct21 := time.Date(2026, 10, 21, 8, 0, 0, 0, time.UTC)
	nov4 := time.Date(2026, 11, 4, 8, 0, 0, 0, time.UTC)
	nov18 := time.Date(2026, 11, 18, 8, 0, 0, 0, time.UTC)

	committer := &fakeCommitter{}
	mirror := &fakeMirror{}
	p := newTestPublisher(t, Options{OutputDir: dir, Committer: committer, Mirror: mirror})

	first := bundle(t0, feb1)
	first.Schedule = scheduleAt(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), oct21, nov4)
	_, err := p.Publish(ctx, first)
	require.NoError(t, err)
	latestBefore, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)

	mirror.uploads = nil
	second := bundle(t0.Add(72*time.Hour), feb1)
	second.Schedule = scheduleAt(time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC), nov4, nov18)
	res, err := p.Publish(ctx, second)
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.True(t, res.ScheduleChanged)
	assert.Equal(t, []string{"v1/schedule.json"}, res.Written)
	assert.Equal(t, "Update COE schedule", committer.commits[len(committer.commits)-1])
	assert.Equal(t, []string{"v1/schedule.json"}, committer.paths)
	assert.Len(t, mirror.uploads, 1)

	schedule, err := os.ReadFile(filepath.Join(dir, "v1", "schedule.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(schedule), "2026-10-21T08:00:00Z")
	assert.Contains(t, string(schedule), `"generatedAt": "2026-10-22T00:00:00Z"`)

	latestAfter, err := os.ReadFile(filepath.Join(dir, "v1", "latest.json"))
	require.NoError(t, err)
	assert.Equal(t, latestBefore, latestAfter)
}

func TestPublishIgnoresScheduleGeneratedAt(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	nov4 := time.Date(2026, 11, 4, 8, 0, 0, 0, time.UTC)
	p := newTestPublisher(t, Options{OutputDir: dir})

	first := bundle(t0, feb1)
	first.Schedule = scheduleAt(time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC), nov4)
	_, err := p.Publish(ctx, first)
	require.NoError(t, err)

	second := bundle(t0, feb1)
	second.Schedule = scheduleAt(time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC), nov4)
	res, err := p.Publish(ctx, second)
	require.NoError(t, err)
	assert.False(t, res.ScheduleChanged)
	assert.Empty(t, res.Written)
}

// Package aggregator turns flat per-category bid records into round results
// and the latest/previous snapshot published alongside the full history.
package aggregator

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

// ErrValidation marks records that cannot be merged into a consistent round.
// Callers must treat it as fatal for the whole run.
var ErrValidation = errors.New("validation fault")

// Output is everything derived from one record set.
type Output struct {
	History []models.RoundResult
	Latest  models.LatestSnapshot
}

// Aggregate groups records into rounds and derives the snapshot. now is only
// used for the snapshot's lastUpdated field.
func Aggregate(records []models.BidRecord, now time.Time) (*Output, error) {
	history, err := GroupRounds(records)
	if err != nil {
		return nil, err
	}
	return &Output{
		History: history,
		Latest:  BuildSnapshot(history, now),
	}, nil
}

// GroupRounds merges records by round id and returns the rounds sorted by
// bidding date descending, then id descending. A repeated (round, category)
// pair keeps the later record's values.
func GroupRounds(records []models.BidRecord) ([]models.RoundResult, error) {
	grouped := make(map[string]*models.RoundResult)
	// Dates are compared at full precision; the published value is truncated.
	dates := make(map[string]time.Time)

	for i, rec := range records {
		if err := validateRecord(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		date := models.NewTimestamp(rec.BiddingDate)
		round, ok := grouped[rec.RoundID]
		if !ok {
			round = &models.RoundResult{
				ID:          rec.RoundID,
				BiddingDate: date,
				RoundLabel:  rec.RoundLabel,
				Prices:      make(map[models.Category]int),
			}
			grouped[rec.RoundID] = round
			dates[rec.RoundID] = rec.BiddingDate
		} else {
			if first := dates[rec.RoundID]; !first.Equal(rec.BiddingDate) {
				return nil, fmt.Errorf("%w: round %s: bidding date %s disagrees with %s",
					ErrValidation, rec.RoundID, rec.BiddingDate.UTC().Format(time.RFC3339Nano), first.UTC().Format(time.RFC3339Nano))
			}
			if round.RoundLabel != rec.RoundLabel {
				return nil, fmt.Errorf("%w: round %s: label %q disagrees with %q",
					ErrValidation, rec.RoundID, rec.RoundLabel, round.RoundLabel)
			}
		}

		round.Prices[rec.Category] = rec.Price
		round.Quotas = setOptional(round.Quotas, rec.Category, rec.Quota)
		round.BidsReceived = setOptional(round.BidsReceived, rec.Category, rec.BidsReceived)
		round.BidsSuccess = setOptional(round.BidsSuccess, rec.Category, rec.BidsSuccess)
	}

	history := make([]models.RoundResult, 0, len(grouped))
	for _, r := range grouped {
		history = append(history, *r)
	}
	slices.SortFunc(history, compareRounds)
	return history, nil
}

// BuildSnapshot picks the two most recent rounds from a history already
// sorted by GroupRounds.
func BuildSnapshot(history []models.RoundResult, now time.Time) models.LatestSnapshot {
	snap := models.LatestSnapshot{LastUpdated: models.NewTimestamp(now)}
	if len(history) > 0 {
		latest := history[0]
		snap.LatestRound = &latest
	}
	if len(history) > 1 {
		previous := history[1]
		snap.PreviousRound = &previous
	}
	return snap
}

func validateRecord(rec models.BidRecord) error {
	if rec.RoundID == "" {
		return fmt.Errorf("%w: empty round id", ErrValidation)
	}
	if rec.BiddingDate.IsZero() {
		return fmt.Errorf("%w: round %s: missing bidding date", ErrValidation, rec.RoundID)
	}
	if !rec.Category.Valid() {
		return fmt.Errorf("%w: round %s: unknown category %q", ErrValidation, rec.RoundID, rec.Category)
	}
	if rec.Price < 0 {
		return fmt.Errorf("%w: round %s category %s: negative price %d",
			ErrValidation, rec.RoundID, rec.Category, rec.Price)
	}
	counts := []struct {
		name string
		v    *int
	}{
		{"quota", rec.Quota},
		{"bids received", rec.BidsReceived},
		{"bids success", rec.BidsSuccess},
	}
	for _, c := range counts {
		if c.v != nil && *c.v < 0 {
			return fmt.Errorf("%w: round %s category %s: negative %s %d",
				ErrValidation, rec.RoundID, rec.Category, c.name, *c.v)
		}
	}
	return nil
}

func setOptional(m map[models.Category]int, cat models.Category, v *int) map[models.Category]int {
	if v == nil {
		return m
	}
	if m == nil {
		m = make(map[models.Category]int)
	}
	m[cat] = *v
	return m
}

// compareRounds orders newest first.
func compareRounds(a, b models.RoundResult) int {
	if c := b.BiddingDate.Compare(a.BiddingDate.Time); c != 0 {
		return c
	}
	return compareIDs(b.ID, a.ID)
}

// compareIDs compares "YYYY-MM-n" ids with the exercise number taken
// numerically, falling back to plain string order for anything else.
func compareIDs(a, b string) int {
	ap, an, aok := splitID(a)
	bp, bn, bok := splitID(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	if c := strings.Compare(ap, bp); c != 0 {
		return c
	}
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

func splitID(id string) (prefix string, exercise int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

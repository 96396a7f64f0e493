// Package analytics derives per-category price statistics from the round
// history for v1/analytics.json.
package analytics

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

const yearAgo = 365 * 24 * time.Hour

// Build computes statistics for every category that has at least one price.
// history must be sorted newest first, as produced by the aggregator.
func Build(history []models.RoundResult, now time.Time) models.Analytics {
	out := models.Analytics{
		Categories:  make(map[models.Category]models.CategoryStats),
		TotalRounds: len(history),
		GeneratedAt: models.NewTimestamp(now),
	}

	for _, cat := range models.Categories {
		var points []models.PriceAt
		for _, r := range history {
			if p, ok := r.Prices[cat]; ok {
				points = append(points, models.PriceAt{Price: p, Date: r.BiddingDate})
			}
		}
		if len(points) == 0 {
			continue
		}
		out.Categories[cat] = categoryStats(points)
	}
	return out
}

func categoryStats(points []models.PriceAt) models.CategoryStats {
	prices := make([]int, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}

	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		if p.Price < lo.Price {
			lo = p
		}
		if p.Price > hi.Price {
			hi = p
		}
	}

	return models.CategoryStats{
		Average:    mean(prices),
		Median:     median(prices),
		Min:        lo,
		Max:        hi,
		YoYChange:  yoyChange(points),
		DataPoints: len(points),
	}
}

func mean(prices []int) int {
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(decimal.NewFromInt(int64(p)))
	}
	return int(sum.Div(decimal.NewFromInt(int64(len(prices)))).IntPart())
}

func median(prices []int) int {
	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	pair := decimal.NewFromInt(int64(sorted[mid-1])).Add(decimal.NewFromInt(int64(sorted[mid])))
	return int(pair.Div(decimal.NewFromInt(2)).IntPart())
}

// yoyChange compares the latest price with the one recorded closest to a year
// before it. Ties go to the more recent round.
func yoyChange(points []models.PriceAt) *int {
	if len(points) < 2 {
		return nil
	}
	latest := points[0]
	target := latest.Date.Add(-yearAgo)

	closest := points[1]
	best := absDuration(closest.Date.Sub(target))
	for _, p := range points[2:] {
		if d := absDuration(p.Date.Sub(target)); d < best {
			closest, best = p, d
		}
	}
	change := latest.Price - closest.Price
	return &change
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

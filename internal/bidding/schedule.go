package bidding

import (
	"time"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

// DefaultUpcoming is how many future closings the schedule artifact lists.
const DefaultUpcoming = 4

// Upcoming returns the next n bidding closings strictly after now, oldest first.
func Upcoming(now time.Time, n int) []models.ScheduledRound {
	out := make([]models.ScheduledRound, 0, max(n, 0))
	local := now.In(SGT)
	month := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, SGT)

	for len(out) < n {
		for _, ex := range []int{1, 2} {
			r := Round{Month: month, Exercise: ex}
			closing := r.ClosingDate()
			if !closing.After(now) {
				continue
			}
			out = append(out, models.ScheduledRound{
				ClosingDate:    models.NewTimestamp(closing),
				RoundLabel:     r.Label(),
				ExerciseNumber: ex,
			})
			if len(out) == n {
				break
			}
		}
		month = month.AddDate(0, 1, 0)
	}
	return out
}

// BuildSchedule assembles the v1/schedule.json payload.
func BuildSchedule(now time.Time, n int) models.Schedule {
	return models.Schedule{
		Upcoming:    Upcoming(now, n),
		GeneratedAt: models.NewTimestamp(now),
	}
}

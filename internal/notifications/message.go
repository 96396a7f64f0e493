package notifications

import (
	"strconv"
	"strings"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

// RoundSummary renders a round as "Feb 2026 Ex 1: A $92,000 | B $68,000",
// categories in A..E order, skipping those not reported.
func RoundSummary(r models.RoundResult) string {
	var parts []string
	for _, cat := range models.Categories {
		if p, ok := r.Prices[cat]; ok {
			parts = append(parts, string(cat)+" $"+FormatSGD(p))
		}
	}
	if len(parts) == 0 {
		return r.RoundLabel + ": no prices"
	}
	return r.RoundLabel + ": " + strings.Join(parts, " | ")
}

// FormatSGD groups digits in thousands: 92000 -> "92,000".
func FormatSGD(v int) string {
	s := strconv.Itoa(v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

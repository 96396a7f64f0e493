package models

// PriceAt pairs a price with the bidding date it was recorded on.
type PriceAt struct {
	Price int       `json:"price"`
	Date  Timestamp `json:"date"`
}

type CategoryStats struct {
	Average    int     `json:"average"`
	Median     int     `json:"median"`
	Min        PriceAt `json:"min"`
	Max        PriceAt `json:"max"`
	YoYChange  *int    `json:"yoyChange"`
	DataPoints int     `json:"dataPoints"`
}

// Analytics is the payload of v1/analytics.json.
type Analytics struct {
	Categories  map[Category]CategoryStats `json:"categories"`
	TotalRounds int                        `json:"totalRounds"`
	GeneratedAt Timestamp                  `json:"generatedAt"`
}

type ScheduledRound struct {
	ClosingDate    Timestamp `json:"closingDate"`
	RoundLabel     string    `json:"roundLabel"`
	ExerciseNumber int       `json:"exerciseNumber"`
}

// Schedule is the payload of v1/schedule.json.
type Schedule struct {
	Upcoming    []ScheduledRound `json:"upcoming"`
	GeneratedAt Timestamp        `json:"generatedAt"`
}

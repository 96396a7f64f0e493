package models

import "time"

// Category is a COE vehicle class bucket, keyed by a single letter.
type Category string

const (
	CategoryA Category = "A"
	CategoryB Category = "B"
	CategoryC Category = "C"
	CategoryD Category = "D"
	CategoryE Category = "E"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryA, CategoryB, CategoryC, CategoryD, CategoryE}

func (c Category) Valid() bool {
	switch c {
	case CategoryA, CategoryB, CategoryC, CategoryD, CategoryE:
		return true
	}
	return false
}

// BidRecord is one upstream row: the result of a single category in a single
// bidding round. Quota and bid counts are optional.
type BidRecord struct {
	RoundID      string
	BiddingDate  time.Time
	RoundLabel   string
	Category     Category
	Price        int
	Quota        *int
	BidsReceived *int
	BidsSuccess  *int
}

// RoundResult is the aggregated view of one bidding round.
type RoundResult struct {
	ID           string           `json:"id"`
	BiddingDate  Timestamp        `json:"biddingDate"`
	RoundLabel   string           `json:"roundLabel"`
	Prices       map[Category]int `json:"prices"`
	Quotas       map[Category]int `json:"quotas,omitempty"`
	BidsReceived map[Category]int `json:"bidsReceived,omitempty"`
	BidsSuccess  map[Category]int `json:"bidsSuccess,omitempty"`
}

// LatestSnapshot is the payload of v1/latest.json.
type LatestSnapshot struct {
	LatestRound   *RoundResult `json:"latestRound"`
	PreviousRound *RoundResult `json:"previousRound"`
	LastUpdated   Timestamp    `json:"lastUpdated"`
}

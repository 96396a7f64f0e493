package models

import (
	"fmt"
	"time"
)

// TimestampLayout is the wire format for every timestamp in the published
// artifacts: UTC, second precision, literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

type Timestamp struct {
	time.Time
}

// NewTimestamp normalises t to UTC and drops sub-second precision so that the
// value round-trips through TimestampLayout unchanged.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp: expected JSON string, got %s", data)
	}
	parsed, err := time.Parse(TimestampLayout, string(data[1:len(data)-1]))
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

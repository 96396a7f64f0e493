// Package artifact owns the on-disk format of the published JSON files.
//
// Encoding is canonical: map keys are sorted by encoding/json, prices are
// integers, indentation is two spaces, HTML characters are left unescaped and
// every file ends with a single newline. Two encodes of equal values are
// byte-identical, which is what change detection relies on.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/TheEverestLab/coesg-data/internal/models"
)

// Version is the directory every artifact is published under.
const Version = "v1"

const (
	LatestFile    = "latest.json"
	HistoryFile   = "history.json"
	AnalyticsFile = "analytics.json"
	ScheduleFile  = "schedule.json"
)

func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadHistory loads a previously published history.json. A missing file is
// not an error and yields a nil slice.
func ReadHistory(path string) ([]models.RoundResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rounds []models.RoundResult
	if err := json.Unmarshal(data, &rounds); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rounds, nil
}

// ReadSchedule loads a previously published schedule.json. A missing file
// yields nil.
func ReadSchedule(path string) (*models.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var s models.Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, nil
}

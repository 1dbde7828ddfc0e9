package dom

import (
	"encoding/json"
	"time"
)

// Trigger names what caused a sweep.
type Trigger string

const (
	TriggerInitial  Trigger = "initial"  // first sweep after the page is ready
	TriggerMutation Trigger = "mutation" // deferred resweep after qualifying insertions
	TriggerFallback Trigger = "fallback" // periodic safety-net sweep
	TriggerManual   Trigger = "manual"   // one-shot sweeps (offline filter, API)
)

// Report summarises a single sweep. Emitted to sinks after every sweep.
type Report struct {
	ID      string  `json:"id"` // rpt_ + UUIDv7
	PageID  string  `json:"page_id"`
	PageURL string  `json:"page_url"`
	Trigger Trigger `json:"trigger"`

	Matched    int `json:"matched"`    // elements matched by any selector
	Suppressed int `json:"suppressed"` // hidden or removed by this sweep
	Skipped    int `json:"skipped"`    // already hidden
	Rejected   int `json:"rejected"`   // kept by the guard
	Errors     int `json:"errors"`     // per-element failures (logged)

	SkipClicked bool `json:"skip_clicked"`

	Timestamp int64         `json:"timestamp"` // epoch milliseconds at completion
	Duration  time.Duration `json:"duration_ns"`
}

// MarshalReport serialises a Report to JSON.
func MarshalReport(r *Report) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReport deserialises a Report from JSON.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

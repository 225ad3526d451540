package flowdebug

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is the outcome of one step run, appended to the
// session history.
type ExecutionRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	StepID     string         `json:"step_id"`
	StepName   string         `json:"step_name"`
	Success    bool           `json:"success"`
	DurationMs float64        `json:"duration_ms"`
	Inputs     map[string]any `json:"inputs"`
	Outputs    map[string]any `json:"outputs"`
	// Error is the failure message; empty on success.
	Error string `json:"error"`
}

// MarshalJSON renders an empty Error as null.
func (r ExecutionRecord) MarshalJSON() ([]byte, error) {
	type plain ExecutionRecord
	out := struct {
		plain
		Error *string `json:"error"`
	}{plain: plain(r)}
	if r.Error != "" {
		out.Error = &r.Error
	}
	return json.Marshal(out)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

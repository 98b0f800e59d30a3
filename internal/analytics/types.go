package analytics

import (
	"time"

	"github.com/nest-haus/konfigurator-tracking/internal/tracking"
)

// ExitPoint is a category where sessions stopped selecting, with how many
// sessions ended there
type ExitPoint struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// JourneyStep is one replayed selection
type JourneyStep struct {
	Category   string    `json:"category"`
	Selection  string    `json:"selection"`
	TotalPrice *int64    `json:"total_price,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Journey is the replay of a single session's selections
type Journey struct {
	SessionID  string                 `json:"session_id"`
	Status     tracking.SessionStatus `json:"status"`
	Completed  bool                   `json:"completed"`
	Steps      []JourneyStep          `json:"steps"`
	DurationMs int64                  `json:"duration_ms"`
}

// StageDefinition names a funnel stage and the category that gates it
type StageDefinition struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// FunnelStage is one computed stage of a conversion funnel. Stage
// populations are strict subsets of the previous stage, so conversion
// rates are non-increasing by construction.
type FunnelStage struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Count          int     `json:"count"`
	ConversionRate float64 `json:"conversion_rate"`
}

// AbandonmentStats is the average time sessions ran before abandonment
type AbandonmentStats struct {
	AverageMs int64 `json:"average_ms"`
	Sessions  int   `json:"sessions"`
}

// Overview aggregates session counts for a time window
type Overview struct {
	TotalSessions     int   `json:"total_sessions"`
	ActiveSessions    int   `json:"active_sessions"`
	CompletedSessions int   `json:"completed_sessions"`
	AbandonedSessions int   `json:"abandoned_sessions"`
	AverageDurationMs int64 `json:"average_duration_ms"`
}

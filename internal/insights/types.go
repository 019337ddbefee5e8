package insights

import "time"

// EventType classifies a raw engagement fact.
type EventType string

const (
	EventSent    EventType = "sent"
	EventOpened  EventType = "opened"
	EventClicked EventType = "clicked"
)

// EngagementRecord is one immutable engagement fact from the event log.
type EngagementRecord struct {
	SubjectID   string    `json:"subject_id"`
	EventType   EventType `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	RecipientID string    `json:"recipient_id"`
}

// SendTimeWindow is one day-of-week x hour-of-day bucket of engagement.
// Derived entirely from the event log; recomputed, never hand-edited.
type SendTimeWindow struct {
	DayOfWeek       int     `json:"day_of_week"`  // 0=Sunday .. 6=Saturday
	HourOfDay       int     `json:"hour_of_day"`  // 0-23
	SendCount       int     `json:"send_count"`
	OpenCount       int     `json:"open_count"`
	OpenRateBP      int     `json:"open_rate_bp"` // basis points, 0-10000
	ConfidenceScore int     `json:"confidence_score"`
	LiftPercent     float64 `json:"lift_percent"`
}

// Status distinguishes a real result from the insufficient-data outcome.
// Insufficient data is a normal, user-visible state, not an error, and is
// distinct from "zero results": callers must branch on it.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

// SendTimeInsights is the aggregated send-time picture for one scope.
type SendTimeInsights struct {
	Status             Status `json:"status"`
	BaselineSendCount  int    `json:"baseline_send_count"`
	BaselineOpenRateBP int    `json:"baseline_open_rate_bp"`

	// Heatmap has one slot per bucket (7 days x 24 hours); buckets with no
	// data are explicitly null rather than zero.
	Heatmap [BucketCount]*SendTimeWindow `json:"heatmap"`

	// TopWindows are the headline recommendations: open rate descending,
	// ties broken by send count descending.
	TopWindows []SendTimeWindow `json:"top_windows"`

	CacheAgeHours float64 `json:"cache_age_hours"`
}

// Scope selects which slice of the event log an aggregation covers.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeSubject Scope = "subject" // one campaign/message, selected by scopeID
)

// Interval selects time-series bucket width.
type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
	IntervalWeek Interval = "week"
)

// DataPoint is one time-series bucket. The sequence carries no implied
// gaps: a missing timestamp means zero, not absent data.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

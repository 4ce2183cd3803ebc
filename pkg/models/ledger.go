package models

import "time"

// RequestResult is the outcome of a raw token request against a bucket.
type RequestResult struct {
	Allowed         bool          `json:"allowed"`
	RemainingTokens int64         `json:"remaining_tokens"`
	TimeUntilRefill time.Duration `json:"time_until_refill,omitempty"`
}

// Balance is a user's current standing against their daily allocation.
type Balance struct {
	RemainingTokens  int64         `json:"remaining_tokens"`
	DailyAllocation  int64         `json:"daily_allocation"`
	UsedToday        int64         `json:"used_today"`
	PercentRemaining int           `json:"percent_remaining"`
	TimeUntilRefill  time.Duration `json:"time_until_refill"`
}

// UsageEntry is one recorded charge in a user's usage history.
type UsageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Tokens    int64     `json:"tokens"`
	ModelID   string    `json:"model_id"`
}

// HistoryEntry is a usage entry annotated with a human-readable date.
type HistoryEntry struct {
	UsageEntry
	Date string `json:"date"`
}

// UsageStats aggregates a user's activity for the current period, plus the
// usage history, which survives daily resets.
type UsageStats struct {
	RequestsToday   int64          `json:"requests_today"`
	TokensUsedToday int64          `json:"tokens_used_today"`
	DailyAllocation int64          `json:"daily_allocation"`
	RemainingTokens int64          `json:"remaining_tokens"`
	History         []HistoryEntry `json:"usage_history"`
}

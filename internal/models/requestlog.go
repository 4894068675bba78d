package models

import (
	"fmt"
	"time"
)

// RequestLogEntry is one gateway request observed by the service.
type RequestLogEntry struct {
	ID              string    `json:"id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	AccountID       string    `json:"account_id,omitempty"`
	AccountLabel    string    `json:"account_label,omitempty"`
	KeyID           string    `json:"key_id,omitempty"`
	Method          string    `json:"method"`
	RequestPath     string    `json:"request_path"`
	Model           string    `json:"model,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Identity derives a stable identity string for append-only detection when
// the service did not assign an id. index is the entry's position in the
// fetched list, which disambiguates bursts sharing a timestamp.
func (e RequestLogEntry) Identity(index int) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%d|%s|%d|%s|%s|%d",
		e.CreatedAt.UnixMilli(), e.Method, e.StatusCode, e.AccountID, e.KeyID, index)
}

// LogIdentities computes the identity string for every entry in order.
func LogIdentities(entries []RequestLogEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Identity(i)
	}
	return ids
}

// RequestLogTodaySummary aggregates today's gateway traffic. Missing
// backend fields decode as zero, which is also the displayed default.
type RequestLogTodaySummary struct {
	TodayTokens           int64   `json:"today_tokens"`
	CachedInputTokens     int64   `json:"cached_input_tokens"`
	ReasoningOutputTokens int64   `json:"reasoning_output_tokens"`
	EstimatedCost         float64 `json:"estimated_cost"`
}

// Normalize clamps negative counters to zero.
func (s *RequestLogTodaySummary) Normalize() {
	if s.TodayTokens < 0 {
		s.TodayTokens = 0
	}
	if s.CachedInputTokens < 0 {
		s.CachedInputTokens = 0
	}
	if s.ReasoningOutputTokens < 0 {
		s.ReasoningOutputTokens = 0
	}
	if s.EstimatedCost < 0 {
		s.EstimatedCost = 0
	}
}

// Package models defines the plain records exchanged with codexmanager-service.
package models

import "time"

// Account is an upstream ChatGPT account enrolled with the service.
// The service owns account identity; the panel only echoes confirmed
// mutations (resort, delete) back into its cached list.
type Account struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	GroupName string `json:"group_name,omitempty"`
	Sort      int    `json:"sort"`
	Status    string `json:"status,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// AvailabilityStatus classifies an account's usage headroom.
type AvailabilityStatus string

const (
	AvailabilityOK        AvailabilityStatus = "ok"
	AvailabilityLimited   AvailabilityStatus = "limited"
	AvailabilityExhausted AvailabilityStatus = "exhausted"
	AvailabilityUnknown   AvailabilityStatus = "unknown"
)

// UsageSnapshot captures the rolling usage windows reported for one account.
// UsedPercent and SecondaryUsedPercent are nil when the service did not
// report the corresponding window.
type UsageSnapshot struct {
	AccountID              string             `json:"account_id"`
	UsedPercent            *float64           `json:"used_percent"`
	WindowMinutes          int                `json:"window_minutes,omitempty"`
	SecondaryUsedPercent   *float64           `json:"secondary_used_percent"`
	SecondaryWindowMinutes int                `json:"secondary_window_minutes,omitempty"`
	CapturedAt             time.Time          `json:"captured_at"`
	ResetsAt               time.Time          `json:"resets_at,omitempty"`
	SecondaryResetsAt      time.Time          `json:"secondary_resets_at,omitempty"`
	Availability           AvailabilityStatus `json:"availability_status,omitempty"`
}

// Normalize clamps reported percentages into [0,100] and derives the
// availability status when the service omitted it. An account with neither
// window is unknown.
func (u *UsageSnapshot) Normalize() {
	u.UsedPercent = clampPercent(u.UsedPercent)
	u.SecondaryUsedPercent = clampPercent(u.SecondaryUsedPercent)

	if u.Availability != "" {
		return
	}
	if u.UsedPercent == nil && u.SecondaryUsedPercent == nil {
		u.Availability = AvailabilityUnknown
		return
	}
	worst := 0.0
	if u.UsedPercent != nil {
		worst = *u.UsedPercent
	}
	if u.SecondaryUsedPercent != nil && *u.SecondaryUsedPercent > worst {
		worst = *u.SecondaryUsedPercent
	}
	switch {
	case worst >= 100:
		u.Availability = AvailabilityExhausted
	case worst >= 90:
		u.Availability = AvailabilityLimited
	default:
		u.Availability = AvailabilityOK
	}
}

func clampPercent(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

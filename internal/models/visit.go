package models

import "time"

// Visit is a single browsing touchpoint recorded against a campaign.
// A session may accumulate many visits across many campaigns; every
// page load with a tracking code inserts a new row. A visit stays
// eligible for attribution until ExpiresAt, which slides forward on
// recorded activity.
type Visit struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	SessionID  string `json:"session_id"`
	// CustomerID is attached post-conversion; anonymous before that.
	CustomerID string `json:"customer_id,omitempty"`

	LandingPage string `json:"landing_page,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	IP          string `json:"ip,omitempty"`
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`

	VisitedAt      time.Time `json:"visited_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	Converted   bool       `json:"converted"`
	ConvertedAt *time.Time `json:"converted_at,omitempty"`
	// OrderID is the order this visit was credited with, set together
	// with Converted by the conversion recorder.
	OrderID string `json:"order_id,omitempty"`
}

// IsActive reports whether the visit can still receive attribution at
// the given instant.
func (v *Visit) IsActive(now time.Time) bool {
	return !now.After(v.ExpiresAt)
}

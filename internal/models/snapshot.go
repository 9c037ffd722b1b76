package models

import "time"

// Snapshot is a pre-aggregated metrics row for one campaign and one
// calendar day (optionally one hour). Unique on (campaign, date, hour).
// Snapshots are produced by the snapshot service and read by reporting
// surfaces that prefer cached values over live aggregation for closed
// periods.
type Snapshot struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Date       time.Time `json:"date"`
	Hour       *int      `json:"hour,omitempty"`

	Visits            int64   `json:"visits"`
	UniqueVisitors    int64   `json:"unique_visitors"`
	Conversions       int64   `json:"conversions"`
	Revenue           float64 `json:"revenue"`
	ConversionRate    float64 `json:"conversion_rate"`
	ROI               float64 `json:"roi"`
	AverageOrderValue float64 `json:"average_order_value"`

	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

// Conversion links an order to the visit that earned the credit.
// Exactly one conversion may exist per visit; the row is immutable
// after creation. Revenue is a snapshot of the order total at
// conversion time and is never recomputed.
type Conversion struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	VisitID     string    `json:"visit_id"`
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Revenue     float64   `json:"revenue"`
	ConvertedAt time.Time `json:"converted_at"`
}

package storage

import (
	"context"
	"time"

	"github.com/shoptrail/attribution/internal/models"
)

// =============================================
// CAMPAIGN REPOSITORY
// =============================================

// CampaignRepo defines operations for campaign storage. Implementations
// must enforce tracking-code uniqueness (Insert returns
// models.ErrConflict on collision); hierarchy validation lives in the
// registry, not here.
type CampaignRepo interface {
	ListAll(ctx context.Context) ([]*models.Campaign, error)
	ListActive(ctx context.Context) ([]*models.Campaign, error)
	ListChildren(ctx context.Context, parentID string) ([]*models.Campaign, error)
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	GetByTrackingCode(ctx context.Context, code string) (*models.Campaign, error)
	Insert(ctx context.Context, c *models.Campaign) error
	Update(ctx context.Context, c *models.Campaign) error
	// Delete removes the campaign; dependent visits, conversions and
	// snapshots cascade.
	Delete(ctx context.Context, id string) error
}

// =============================================
// VISIT STORE
// =============================================

// VisitStore persists visits and conversions and serves the grouped
// aggregations reporting is built on. Visits and conversions live in
// one store because recording a conversion must update both in a
// single atomic unit.
type VisitStore interface {
	InsertVisit(ctx context.Context, v *models.Visit) error
	GetVisit(ctx context.Context, id string) (*models.Visit, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Visit, error)

	// LastActiveVisit returns the unconverted visit with the greatest
	// visited_at among the session's visits still inside their
	// attribution window at now, or nil when the session has none.
	LastActiveVisit(ctx context.Context, sessionID string, now time.Time) (*models.Visit, error)

	// TouchVisit records activity: last_activity_at=now and
	// expires_at=now+window. visited_at is untouched. Returns
	// models.ErrNotFound for an unknown id.
	TouchVisit(ctx context.Context, id string, now time.Time, window time.Duration) (*models.Visit, error)

	// TouchSession touches the most recent visit for the session.
	TouchSession(ctx context.Context, sessionID string, now time.Time, window time.Duration) (*models.Visit, error)

	// RecordConversion flags the visit converted and inserts the
	// conversion row as one atomic unit. Returns models.ErrConflict if
	// the visit is already converted and models.ErrNotFound if it does
	// not exist. Exactly one of two concurrent calls for the same
	// visit succeeds.
	RecordConversion(ctx context.Context, conv *models.Conversion) error

	GetConversion(ctx context.Context, id string) (*models.Conversion, error)
	GetConversionByVisit(ctx context.Context, visitID string) (*models.Conversion, error)

	// Aggregations. Each is a single grouped scan/query; callers never
	// loop per row or per campaign.
	CampaignTotals(ctx context.Context, campaignID string, r models.DateRange) (*CampaignTotals, error)

	// TotalsByCampaign aggregates many campaigns in one pass. A nil or
	// empty ids slice means all campaigns with any activity.
	TotalsByCampaign(ctx context.Context, ids []string, r models.DateRange) (map[string]*CampaignTotals, error)

	Timeline(ctx context.Context, campaignID string, r models.DateRange) ([]*DailyTotals, error)
	DeviceTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*DeviceTotals, error)
	CountryTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*CountryTotals, error)

	// DeleteByCampaign removes the campaign's visits and conversions
	// (cascade support for campaign deletion).
	DeleteByCampaign(ctx context.Context, campaignID string) error
}

// =============================================
// SNAPSHOT REPOSITORY
// =============================================

// SnapshotRepo stores pre-aggregated metric rows, unique on
// (campaign_id, date, hour).
type SnapshotRepo interface {
	Upsert(ctx context.Context, s *models.Snapshot) error
	Get(ctx context.Context, campaignID string, date time.Time, hour *int) (*models.Snapshot, error)
	ListByCampaign(ctx context.Context, campaignID string, r models.DateRange) ([]*models.Snapshot, error)
	DeleteByCampaign(ctx context.Context, campaignID string) error
}

// =============================================
// AGGREGATE ROWS
// =============================================

// CampaignTotals is the raw material for campaign metrics: visit and
// conversion counts plus summed conversion revenue inside a window.
// Revenue comes from conversion rows, the source of truth, never from
// re-pricing orders.
type CampaignTotals struct {
	Visits         int64
	UniqueSessions int64
	Conversions    int64
	Revenue        float64
}

// DailyTotals is one calendar-day bucket of a campaign timeline.
type DailyTotals struct {
	Date        time.Time `json:"date"`
	Visits      int64     `json:"visits"`
	Conversions int64     `json:"conversions"`
	Revenue     float64   `json:"revenue"`
}

// DeviceTotals groups a campaign's visits by device type.
type DeviceTotals struct {
	DeviceType  string `json:"device_type"`
	Visits      int64  `json:"visits"`
	Conversions int64  `json:"conversions"`
}

// CountryTotals groups a campaign's visits by country.
type CountryTotals struct {
	Country     string  `json:"country"`
	Visits      int64   `json:"visits"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

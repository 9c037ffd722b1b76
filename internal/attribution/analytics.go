package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

const metricsCacheTTL = 30 * time.Second

// CampaignMetrics is the reporting view of a campaign over a window.
// Rates and money-per-unit values are rounded to 2 decimals; zero
// denominators resolve to 0.00, never an error.
type CampaignMetrics struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name,omitempty"`

	TotalVisits       int64   `json:"total_visits"`
	UniqueVisitors    int64   `json:"unique_visitors"`
	TotalConversions  int64   `json:"total_conversions"`
	TotalRevenue      float64 `json:"total_revenue"`
	ConversionRate    float64 `json:"conversion_rate"`
	AverageOrderValue float64 `json:"average_order_value"`
	ROI               float64 `json:"roi"`
	CostPerVisit      float64 `json:"cost_per_visit"`
	CostPerConversion float64 `json:"cost_per_conversion"`
}

// Analytics computes campaign performance from the visit store. Every
// read is one grouped aggregation query; nothing loops per row. An
// optional redis cache fronts the reads with a short TTL, which is
// fine because reporting tolerates slightly stale numbers.
type Analytics struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	cache     *redis.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewAnalytics(campaigns storage.CampaignRepo, visits storage.VisitStore, logger *zap.Logger) *Analytics {
	return &Analytics{campaigns: campaigns, visits: visits, logger: logger}
}

// WithCache sets the redis reporting cache.
func (a *Analytics) WithCache(c *redis.Client) *Analytics {
	a.cache = c
	return a
}

// WithMetrics sets the prometheus metrics.
func (a *Analytics) WithMetrics(m *metrics.Metrics) *Analytics {
	a.metrics = m
	return a
}

// CampaignMetrics computes the full metric set for one campaign over
// an optional window.
func (a *Analytics) CampaignMetrics(ctx context.Context, campaignID string, rng models.DateRange) (*CampaignMetrics, error) {
	if cached := a.cacheGet(ctx, campaignID, rng); cached != nil {
		return cached, nil
	}

	c, err := a.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
	}

	totals, err := a.visits.CampaignTotals(ctx, campaignID, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate campaign totals: %w", err)
	}

	m := buildMetrics(c, totals)
	a.cacheSet(ctx, campaignID, rng, m)
	return m, nil
}

// buildMetrics applies the metric formulas to raw totals.
func buildMetrics(c *models.Campaign, t *storage.CampaignTotals) *CampaignMetrics {
	m := &CampaignMetrics{
		CampaignID:       c.ID,
		CampaignName:     c.Name,
		TotalVisits:      t.Visits,
		UniqueVisitors:   t.UniqueSessions,
		TotalConversions: t.Conversions,
		TotalRevenue:     round2(t.Revenue),
	}
	if t.Visits > 0 {
		m.ConversionRate = round2(float64(t.Conversions) / float64(t.Visits) * 100)
		m.CostPerVisit = round2(c.Cost / float64(t.Visits))
	}
	if t.Conversions > 0 {
		m.AverageOrderValue = round2(t.Revenue / float64(t.Conversions))
		m.CostPerConversion = round2(c.Cost / float64(t.Conversions))
	}
	if c.Cost > 0 {
		m.ROI = round2((t.Revenue - c.Cost) / c.Cost * 100)
	}
	return m
}

// Timeline returns per-day visits/conversions/revenue ascending by
// date. Days with no activity are absent, not zero-filled.
func (a *Analytics) Timeline(ctx context.Context, campaignID string, rng models.DateRange) ([]*storage.DailyTotals, error) {
	if err := a.requireCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	days, err := a.visits.Timeline(ctx, campaignID, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate timeline: %w", err)
	}
	for _, d := range days {
		d.Revenue = round2(d.Revenue)
	}
	return days, nil
}

// DeviceBreakdown groups the campaign's visits by device type,
// descending by visit count.
func (a *Analytics) DeviceBreakdown(ctx context.Context, campaignID string, rng models.DateRange) ([]*storage.DeviceTotals, error) {
	if err := a.requireCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return a.visits.DeviceTotals(ctx, campaignID, rng)
}

// GeographicBreakdown groups the campaign's visits by country,
// descending by visit count, with attributed revenue per country.
func (a *Analytics) GeographicBreakdown(ctx context.Context, campaignID string, rng models.DateRange) ([]*storage.CountryTotals, error) {
	if err := a.requireCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	rows, err := a.visits.CountryTotals(ctx, campaignID, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate geo breakdown: %w", err)
	}
	for _, r := range rows {
		r.Revenue = round2(r.Revenue)
	}
	return rows, nil
}

func (a *Analytics) requireCampaign(ctx context.Context, id string) error {
	c, err := a.campaigns.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func metricsCacheKey(campaignID string, rng models.DateRange) string {
	start, end := "-", "-"
	if rng.Start != nil {
		start = rng.Start.UTC().Format(time.RFC3339)
	}
	if rng.End != nil {
		end = rng.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("metrics:%s:%s:%s", campaignID, start, end)
}

func (a *Analytics) cacheGet(ctx context.Context, campaignID string, rng models.DateRange) *CampaignMetrics {
	if a.cache == nil {
		return nil
	}
	raw, err := a.cache.Get(ctx, metricsCacheKey(campaignID, rng)).Bytes()
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordCacheRequest("metrics", "miss")
		}
		return nil
	}
	var m CampaignMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if a.metrics != nil {
		a.metrics.RecordCacheRequest("metrics", "hit")
	}
	return &m
}

func (a *Analytics) cacheSet(ctx context.Context, campaignID string, rng models.DateRange, m *CampaignMetrics) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, metricsCacheKey(campaignID, rng), raw, metricsCacheTTL).Err(); err != nil {
		a.logger.Debug("failed to cache metrics", zap.Error(err))
	}
}

// round2 rounds to 2 decimal places. Applied only at the reporting
// boundary; raw sums stay unrounded in the stores.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

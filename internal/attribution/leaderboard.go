package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

const leaderboardCacheTTL = 60 * time.Second

// Leaderboard metrics.
const (
	MetricROI         = "roi"
	MetricRevenue     = "revenue"
	MetricConversions = "conversions"
	MetricVisits      = "visits"
)

// ErrUnknownMetric is returned by Rank for a metric name outside the
// supported set.
var ErrUnknownMetric = errors.New("unknown leaderboard metric")

// LeaderboardEntry is one ranked campaign with its all-time metrics.
type LeaderboardEntry struct {
	Rank    int              `json:"rank"`
	Metrics *CampaignMetrics `json:"metrics"`
}

// Leaderboard ranks active campaigns by a chosen metric over all
// time. Totals for every campaign come from a single grouped query,
// then ranking happens in memory. Ties are broken by campaign id
// ascending so the ordering is deterministic.
type Leaderboard struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	cache     *redis.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewLeaderboard(campaigns storage.CampaignRepo, visits storage.VisitStore, logger *zap.Logger) *Leaderboard {
	return &Leaderboard{campaigns: campaigns, visits: visits, logger: logger}
}

// WithCache sets the redis reporting cache.
func (l *Leaderboard) WithCache(c *redis.Client) *Leaderboard {
	l.cache = c
	return l
}

// WithMetrics sets the prometheus metrics.
func (l *Leaderboard) WithMetrics(m *metrics.Metrics) *Leaderboard {
	l.metrics = m
	return l
}

// Rank returns the top campaigns by the given metric. Unknown metric
// names are an input error; limit <= 0 means no truncation.
func (l *Leaderboard) Rank(ctx context.Context, metric string, limit int) ([]*LeaderboardEntry, error) {
	switch metric {
	case MetricROI, MetricRevenue, MetricConversions, MetricVisits:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMetric, metric)
	}

	if cached := l.cacheGet(ctx, metric, limit); cached != nil {
		return cached, nil
	}

	active, err := l.campaigns.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	if l.metrics != nil {
		l.metrics.UpdateActiveCampaigns(len(active))
	}
	if len(active) == 0 {
		return []*LeaderboardEntry{}, nil
	}

	ids := make([]string, len(active))
	for i, c := range active {
		ids[i] = c.ID
	}
	totalsByID, err := l.visits.TotalsByCampaign(ctx, ids, models.DateRange{})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate campaign totals: %w", err)
	}

	entries := make([]*LeaderboardEntry, 0, len(active))
	for _, c := range active {
		t := totalsByID[c.ID]
		if t == nil {
			t = &storage.CampaignTotals{}
		}
		entries = append(entries, &LeaderboardEntry{Metrics: buildMetrics(c, t)})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Metrics, entries[j].Metrics
		av, bv := metricValue(a, metric), metricValue(b, metric)
		if av != bv {
			return av > bv
		}
		return a.CampaignID < b.CampaignID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i, e := range entries {
		e.Rank = i + 1
	}

	l.cacheSet(ctx, metric, limit, entries)
	return entries, nil
}

func metricValue(m *CampaignMetrics, metric string) float64 {
	switch metric {
	case MetricROI:
		return m.ROI
	case MetricRevenue:
		return m.TotalRevenue
	case MetricConversions:
		return float64(m.TotalConversions)
	default:
		return float64(m.TotalVisits)
	}
}

func leaderboardCacheKey(metric string, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", metric, limit)
}

func (l *Leaderboard) cacheGet(ctx context.Context, metric string, limit int) []*LeaderboardEntry {
	if l.cache == nil {
		return nil
	}
	raw, err := l.cache.Get(ctx, leaderboardCacheKey(metric, limit)).Bytes()
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordCacheRequest("leaderboard", "miss")
		}
		return nil
	}
	var entries []*LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	if l.metrics != nil {
		l.metrics.RecordCacheRequest("leaderboard", "hit")
	}
	return entries
}

func (l *Leaderboard) cacheSet(ctx context.Context, metric string, limit int, entries []*LeaderboardEntry) {
	if l.cache == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, leaderboardCacheKey(metric, limit), raw, leaderboardCacheTTL).Err(); err != nil {
		l.logger.Debug("failed to cache leaderboard", zap.Error(err))
	}
}

package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// Snapshotter materializes daily metric snapshots so reporting over
// closed periods can read pre-aggregated rows instead of re-scanning
// visits. Rebuilding an existing snapshot overwrites it; the build is
// idempotent.
type Snapshotter struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	snapshots storage.SnapshotRepo
	logger    *zap.Logger
	now       func() time.Time
}

func NewSnapshotter(campaigns storage.CampaignRepo, visits storage.VisitStore, snapshots storage.SnapshotRepo, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		campaigns: campaigns,
		visits:    visits,
		snapshots: snapshots,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BuildDaily computes and stores the snapshot for one campaign and one
// UTC calendar day.
func (s *Snapshotter) BuildDaily(ctx context.Context, campaignID string, date time.Time) (*models.Snapshot, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	next := day.Add(24 * time.Hour)
	totals, err := s.visits.CampaignTotals(ctx, campaignID, models.DateRange{Start: &day, End: &next})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate day totals: %w", err)
	}

	m := buildMetrics(c, totals)
	snap := &models.Snapshot{
		ID:                uuid.New().String(),
		CampaignID:        campaignID,
		Date:              day,
		Visits:            totals.Visits,
		UniqueVisitors:    totals.UniqueSessions,
		Conversions:       totals.Conversions,
		Revenue:           m.TotalRevenue,
		ConversionRate:    m.ConversionRate,
		ROI:               m.ROI,
		AverageOrderValue: m.AverageOrderValue,
		CreatedAt:         s.now(),
	}
	if err := s.snapshots.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns stored snapshots for a campaign inside a range.
func (s *Snapshotter) List(ctx context.Context, campaignID string, rng models.DateRange) ([]*models.Snapshot, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
	}
	return s.snapshots.ListByCampaign(ctx, campaignID, rng)
}

// Run rebuilds yesterday's and today's snapshots for every active
// campaign on the given interval, until the context is cancelled.
// Intended for deployments without an external scheduler; the build
// itself stays callable from outside.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rebuildRecent(ctx)
		}
	}
}

func (s *Snapshotter) rebuildRecent(ctx context.Context) {
	active, err := s.campaigns.ListActive(ctx)
	if err != nil {
		s.logger.Warn("snapshot rebuild: failed to list campaigns", zap.Error(err))
		return
	}

	now := s.now()
	days := []time.Time{now.Add(-24 * time.Hour), now}
	for _, c := range active {
		for _, day := range days {
			if _, err := s.BuildDaily(ctx, c.ID, day); err != nil {
				s.logger.Warn("snapshot rebuild failed",
					zap.String("campaign_id", c.ID),
					zap.Time("date", day),
					zap.Error(err))
			}
		}
	}
	s.logger.Debug("snapshots rebuilt", zap.Int("campaigns", len(active)))
}

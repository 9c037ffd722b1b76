package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoptrail/attribution/internal/models"
)

// PostgresSnapshotRepo implements SnapshotRepo using PostgreSQL. The
// hour column stores -1 for daily rows so the (campaign_id, date, hour)
// unique constraint holds without nullable-column tricks.
type PostgresSnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshotRepo(pool *pgxpool.Pool) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{pool: pool}
}

func hourValue(hour *int) int {
	if hour == nil {
		return -1
	}
	return *hour
}

func (r *PostgresSnapshotRepo) Upsert(ctx context.Context, s *models.Snapshot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO snapshots (
			id, campaign_id, date, hour, visits, unique_visitors, conversions,
			revenue, conversion_rate, roi, average_order_value, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (campaign_id, date, hour) DO UPDATE SET
			visits = EXCLUDED.visits,
			unique_visitors = EXCLUDED.unique_visitors,
			conversions = EXCLUDED.conversions,
			revenue = EXCLUDED.revenue,
			conversion_rate = EXCLUDED.conversion_rate,
			roi = EXCLUDED.roi,
			average_order_value = EXCLUDED.average_order_value
	`, s.ID, s.CampaignID, s.Date.UTC().Truncate(24*time.Hour), hourValue(s.Hour),
		s.Visits, s.UniqueVisitors, s.Conversions, s.Revenue,
		s.ConversionRate, s.ROI, s.AverageOrderValue, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *PostgresSnapshotRepo) Get(ctx context.Context, campaignID string, date time.Time, hour *int) (*models.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, date, hour, visits, unique_visitors, conversions,
		       revenue, conversion_rate, roi, average_order_value, created_at
		FROM snapshots
		WHERE campaign_id = $1 AND date = $2 AND hour = $3
	`, campaignID, date.UTC().Truncate(24*time.Hour), hourValue(hour))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSnapshot(rows)
}

func (r *PostgresSnapshotRepo) ListByCampaign(ctx context.Context, campaignID string, rng models.DateRange) ([]*models.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, date, hour, visits, unique_visitors, conversions,
		       revenue, conversion_rate, roi, average_order_value, created_at
		FROM snapshots
		WHERE campaign_id = $1
		  AND ($2::timestamptz IS NULL OR date >= $2)
		  AND ($3::timestamptz IS NULL OR date < $3)
		ORDER BY date, hour
	`, campaignID, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var res []*models.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *PostgresSnapshotRepo) DeleteByCampaign(ctx context.Context, campaignID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM snapshots WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

type snapshotRow interface {
	Scan(dest ...any) error
}

func scanSnapshot(row snapshotRow) (*models.Snapshot, error) {
	var s models.Snapshot
	var hour int
	if err := row.Scan(
		&s.ID, &s.CampaignID, &s.Date, &hour, &s.Visits, &s.UniqueVisitors,
		&s.Conversions, &s.Revenue, &s.ConversionRate, &s.ROI,
		&s.AverageOrderValue, &s.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if hour >= 0 {
		s.Hour = &hour
	}
	return &s, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoptrail/attribution/internal/models"
)

const campaignColumns = `id, parent_id, name, platform, type, tracking_code,
	cost, budget, is_active, starts_at, ends_at, metadata, created_at, updated_at`

// PostgresCampaignRepo implements CampaignRepo using PostgreSQL.
// Tracking-code uniqueness rides on the table's unique constraint;
// a violation surfaces as models.ErrConflict.
type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

func (r *PostgresCampaignRepo) ListAll(ctx context.Context) ([]*models.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at, id`)
}

func (r *PostgresCampaignRepo) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE is_active ORDER BY created_at, id`)
}

func (r *PostgresCampaignRepo) ListChildren(ctx context.Context, parentID string) ([]*models.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
}

func (r *PostgresCampaignRepo) list(ctx context.Context, query string, args ...any) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *PostgresCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	return r.get(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
}

func (r *PostgresCampaignRepo) GetByTrackingCode(ctx context.Context, code string) (*models.Campaign, error) {
	return r.get(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE tracking_code = $1`, code)
}

func (r *PostgresCampaignRepo) get(ctx context.Context, query string, args ...any) (*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCampaign(rows)
}

func (r *PostgresCampaignRepo) Insert(ctx context.Context, c *models.Campaign) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, nullString(c.ParentID), c.Name, c.Platform, c.Type, c.TrackingCode,
		c.Cost, c.Budget, c.IsActive, c.StartsAt, c.EndsAt, metadata, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET
			parent_id = $2, name = $3, platform = $4, type = $5, tracking_code = $6,
			cost = $7, budget = $8, is_active = $9, starts_at = $10, ends_at = $11,
			metadata = $12, updated_at = $13
		WHERE id = $1
	`, c.ID, nullString(c.ParentID), c.Name, c.Platform, c.Type, c.TrackingCode,
		c.Cost, c.Budget, c.IsActive, c.StartsAt, c.EndsAt, metadata, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresCampaignRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var parentID *string
	var metadata []byte

	if err := row.Scan(
		&c.ID, &parentID, &c.Name, &c.Platform, &c.Type, &c.TrackingCode,
		&c.Cost, &c.Budget, &c.IsActive, &c.StartsAt, &c.EndsAt, &metadata,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	if parentID != nil {
		c.ParentID = *parentID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	return &c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

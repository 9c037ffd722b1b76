package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoptrail/attribution/internal/models"
)

const visitColumns = `id, campaign_id, session_id, customer_id, landing_page,
	referrer, user_agent, device_type, ip, country, city,
	visited_at, last_activity_at, expires_at, converted, converted_at, order_id`

// PostgresVisitStore implements VisitStore using PostgreSQL. The
// conversion path runs in a transaction with a row lock on the visit
// so two concurrent conversions of the same visit cannot both commit.
type PostgresVisitStore struct {
	pool *pgxpool.Pool
}

func NewPostgresVisitStore(pool *pgxpool.Pool) *PostgresVisitStore {
	return &PostgresVisitStore{pool: pool}
}

// =============================================
// Visits
// =============================================

func (s *PostgresVisitStore) InsertVisit(ctx context.Context, v *models.Visit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, v.ID, v.CampaignID, v.SessionID, nullString(v.CustomerID), v.LandingPage,
		v.Referrer, v.UserAgent, v.DeviceType, v.IP, v.Country, v.City,
		v.VisitedAt, v.LastActivityAt, v.ExpiresAt, v.Converted, v.ConvertedAt, nullString(v.OrderID))
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	return nil
}

func (s *PostgresVisitStore) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	v, err := scanVisitRow(s.pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return v, nil
}

func (s *PostgresVisitStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE session_id = $1 ORDER BY visited_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	var visits []*models.Visit
	for rows.Next() {
		v, err := scanVisitRow(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (s *PostgresVisitStore) LastActiveVisit(ctx context.Context, sessionID string, now time.Time) (*models.Visit, error) {
	v, err := scanVisitRow(s.pool.QueryRow(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE session_id = $1 AND NOT converted AND expires_at >= $2
		ORDER BY visited_at DESC, id
		LIMIT 1
	`, sessionID, now))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve visit: %w", err)
	}
	return v, nil
}

func (s *PostgresVisitStore) TouchVisit(ctx context.Context, id string, now time.Time, window time.Duration) (*models.Visit, error) {
	v, err := scanVisitRow(s.pool.QueryRow(ctx, `
		UPDATE visits SET last_activity_at = $2, expires_at = $3
		WHERE id = $1
		RETURNING `+visitColumns, id, now, now.Add(window)))
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to touch visit: %w", err)
	}
	return v, nil
}

func (s *PostgresVisitStore) TouchSession(ctx context.Context, sessionID string, now time.Time, window time.Duration) (*models.Visit, error) {
	v, err := scanVisitRow(s.pool.QueryRow(ctx, `
		UPDATE visits SET last_activity_at = $2, expires_at = $3
		WHERE id = (
			SELECT id FROM visits WHERE session_id = $1
			ORDER BY visited_at DESC, id LIMIT 1
		)
		RETURNING `+visitColumns, sessionID, now, now.Add(window)))
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return v, nil
}

// =============================================
// Conversions
// =============================================

func (s *PostgresVisitStore) RecordConversion(ctx context.Context, conv *models.Conversion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var campaignID string
	var converted bool
	err = tx.QueryRow(ctx, `
		SELECT campaign_id, converted FROM visits WHERE id = $1 FOR UPDATE
	`, conv.VisitID).Scan(&campaignID, &converted)
	if err == pgx.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock visit: %w", err)
	}
	if converted {
		return models.ErrConflict
	}
	if conv.CampaignID == "" {
		conv.CampaignID = campaignID
	}

	_, err = tx.Exec(ctx, `
		UPDATE visits SET converted = true, converted_at = $2, order_id = $3, customer_id = $4
		WHERE id = $1
	`, conv.VisitID, conv.ConvertedAt, nullString(conv.OrderID), nullString(conv.CustomerID))
	if err != nil {
		return fmt.Errorf("failed to mark visit converted: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversions (id, campaign_id, visit_id, order_id, customer_id, revenue, converted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conv.ID, conv.CampaignID, conv.VisitID, conv.OrderID, nullString(conv.CustomerID),
		conv.Revenue, conv.ConvertedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresVisitStore) GetConversion(ctx context.Context, id string) (*models.Conversion, error) {
	return s.getConversion(ctx, `WHERE id = $1`, id)
}

func (s *PostgresVisitStore) GetConversionByVisit(ctx context.Context, visitID string) (*models.Conversion, error) {
	return s.getConversion(ctx, `WHERE visit_id = $1`, visitID)
}

func (s *PostgresVisitStore) getConversion(ctx context.Context, where string, arg any) (*models.Conversion, error) {
	var c models.Conversion
	var customerID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, campaign_id, visit_id, order_id, customer_id, revenue, converted_at
		FROM conversions `+where, arg,
	).Scan(&c.ID, &c.CampaignID, &c.VisitID, &c.OrderID, &customerID, &c.Revenue, &c.ConvertedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	if customerID != nil {
		c.CustomerID = *customerID
	}
	return &c, nil
}

// =============================================
// Aggregations
// =============================================

const rangeFilter = `($2::timestamptz IS NULL OR v.visited_at >= $2)
	AND ($3::timestamptz IS NULL OR v.visited_at < $3)`

func (s *PostgresVisitStore) CampaignTotals(ctx context.Context, campaignID string, r models.DateRange) (*CampaignTotals, error) {
	var t CampaignTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT v.session_id),
		       COUNT(*) FILTER (WHERE v.converted),
		       COALESCE(SUM(c.revenue), 0)
		FROM visits v
		LEFT JOIN conversions c ON c.visit_id = v.id
		WHERE v.campaign_id = $1 AND `+rangeFilter,
		campaignID, r.Start, r.End,
	).Scan(&t.Visits, &t.UniqueSessions, &t.Conversions, &t.Revenue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate campaign totals: %w", err)
	}
	return &t, nil
}

func (s *PostgresVisitStore) TotalsByCampaign(ctx context.Context, ids []string, r models.DateRange) (map[string]*CampaignTotals, error) {
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT v.campaign_id,
		       COUNT(*),
		       COUNT(DISTINCT v.session_id),
		       COUNT(*) FILTER (WHERE v.converted),
		       COALESCE(SUM(c.revenue), 0)
		FROM visits v
		LEFT JOIN conversions c ON c.visit_id = v.id
		WHERE (cardinality($1::text[]) = 0 OR v.campaign_id = ANY($1))
		  AND `+rangeFilter+`
		GROUP BY v.campaign_id
	`, ids, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate totals by campaign: %w", err)
	}
	defer rows.Close()

	res := make(map[string]*CampaignTotals)
	for rows.Next() {
		var campaignID string
		var t CampaignTotals
		if err := rows.Scan(&campaignID, &t.Visits, &t.UniqueSessions, &t.Conversions, &t.Revenue); err != nil {
			return nil, err
		}
		res[campaignID] = &t
	}
	return res, rows.Err()
}

func (s *PostgresVisitStore) Timeline(ctx context.Context, campaignID string, r models.DateRange) ([]*DailyTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT (v.visited_at AT TIME ZONE 'UTC')::date AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE v.converted),
		       COALESCE(SUM(c.revenue), 0)
		FROM visits v
		LEFT JOIN conversions c ON c.visit_id = v.id
		WHERE v.campaign_id = $1 AND `+rangeFilter+`
		GROUP BY day
		ORDER BY day
	`, campaignID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate timeline: %w", err)
	}
	defer rows.Close()

	var points []*DailyTotals
	for rows.Next() {
		var p DailyTotals
		if err := rows.Scan(&p.Date, &p.Visits, &p.Conversions, &p.Revenue); err != nil {
			return nil, err
		}
		points = append(points, &p)
	}
	return points, rows.Err()
}

func (s *PostgresVisitStore) DeviceTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*DeviceTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(v.device_type, ''), 'unknown') AS device,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE v.converted)
		FROM visits v
		WHERE v.campaign_id = $1 AND `+rangeFilter+`
		GROUP BY device
		ORDER BY COUNT(*) DESC, device
	`, campaignID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate device totals: %w", err)
	}
	defer rows.Close()

	var res []*DeviceTotals
	for rows.Next() {
		var d DeviceTotals
		if err := rows.Scan(&d.DeviceType, &d.Visits, &d.Conversions); err != nil {
			return nil, err
		}
		res = append(res, &d)
	}
	return res, rows.Err()
}

func (s *PostgresVisitStore) CountryTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*CountryTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(v.country, ''), 'unknown') AS country,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE v.converted),
		       COALESCE(SUM(c.revenue), 0)
		FROM visits v
		LEFT JOIN conversions c ON c.visit_id = v.id
		WHERE v.campaign_id = $1 AND `+rangeFilter+`
		GROUP BY country
		ORDER BY COUNT(*) DESC, country
	`, campaignID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate country totals: %w", err)
	}
	defer rows.Close()

	var res []*CountryTotals
	for rows.Next() {
		var c CountryTotals
		if err := rows.Scan(&c.Country, &c.Visits, &c.Conversions, &c.Revenue); err != nil {
			return nil, err
		}
		res = append(res, &c)
	}
	return res, rows.Err()
}

// =============================================
// Cleanup
// =============================================

func (s *PostgresVisitStore) DeleteByCampaign(ctx context.Context, campaignID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM conversions WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to delete conversions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM visits WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to delete visits: %w", err)
	}
	return tx.Commit(ctx)
}

func scanVisitRow(row pgx.Row) (*models.Visit, error) {
	var v models.Visit
	var customerID, orderID *string

	if err := row.Scan(
		&v.ID, &v.CampaignID, &v.SessionID, &customerID, &v.LandingPage,
		&v.Referrer, &v.UserAgent, &v.DeviceType, &v.IP, &v.Country, &v.City,
		&v.VisitedAt, &v.LastActivityAt, &v.ExpiresAt, &v.Converted, &v.ConvertedAt, &orderID,
	); err != nil {
		return nil, err
	}

	if customerID != nil {
		v.CustomerID = *customerID
	}
	if orderID != nil {
		v.OrderID = *orderID
	}
	return &v, nil
}

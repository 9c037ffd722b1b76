package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/eventlog"
	"github.com/shoptrail/attribution/internal/geo"
	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// DefaultAttributionWindow is how long a visit stays eligible for
// attribution without further activity.
const DefaultAttributionWindow = 30 * 24 * time.Hour

// Tracker records visits against campaigns. Every page load carrying
// a tracking code becomes a new Visit row; sessions are just a string
// key grouping visits, nothing is deduplicated.
type Tracker struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	geo       geo.Provider
	events    eventlog.Sink
	metrics   *metrics.Metrics
	window    time.Duration
	logger    *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// TrackerOption configures optional Tracker collaborators.
type TrackerOption func(*Tracker)

func WithGeoProvider(p geo.Provider) TrackerOption {
	return func(t *Tracker) { t.geo = p }
}

func WithEventSink(s eventlog.Sink) TrackerOption {
	return func(t *Tracker) { t.events = s }
}

func WithTrackerMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(campaigns storage.CampaignRepo, visits storage.VisitStore, window time.Duration, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if window <= 0 {
		window = DefaultAttributionWindow
	}
	t := &Tracker{
		campaigns: campaigns,
		visits:    visits,
		events:    eventlog.Noop{},
		window:    window,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Window returns the configured attribution window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// TrackInput is the request context captured with a visit. Everything
// beyond TrackingCode and SessionID is optional.
type TrackInput struct {
	TrackingCode string
	SessionID    string
	LandingPage  string
	Referrer     string
	UserAgent    string
	DeviceType   string
	IP           string
	Country      string
	City         string
}

// Track records a visit for the campaign behind the tracking code.
// Unknown codes fail with models.ErrNotFound; paused campaigns still
// accept visits so historical links keep working. Device type and geo
// are filled in from the user agent and IP when the caller did not
// supply them.
func (t *Tracker) Track(ctx context.Context, in TrackInput) (*models.Visit, error) {
	if in.TrackingCode == "" || in.SessionID == "" {
		return nil, fmt.Errorf("tracking_code and session_id are required")
	}

	campaign, err := t.campaigns.GetByTrackingCode(ctx, in.TrackingCode)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tracking code: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("tracking code %s: %w", in.TrackingCode, models.ErrNotFound)
	}

	deviceType := in.DeviceType
	if deviceType == "" {
		deviceType = DeviceTypeFromUserAgent(in.UserAgent)
	}

	country, city := in.Country, in.City
	if country == "" && in.IP != "" && t.geo != nil {
		if loc, err := t.geo.Lookup(in.IP); err == nil {
			country = loc.Country
			if city == "" {
				city = loc.City
			}
		} else {
			t.logger.Debug("geo lookup failed", zap.String("ip", in.IP), zap.Error(err))
		}
	}

	now := t.now()
	v := &models.Visit{
		ID:             uuid.New().String(),
		CampaignID:     campaign.ID,
		SessionID:      in.SessionID,
		LandingPage:    in.LandingPage,
		Referrer:       in.Referrer,
		UserAgent:      in.UserAgent,
		DeviceType:     deviceType,
		IP:             in.IP,
		Country:        country,
		City:           city,
		VisitedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(t.window),
	}
	if err := t.visits.InsertVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to insert visit: %w", err)
	}

	if t.metrics != nil {
		t.metrics.RecordVisit(campaign.ID, string(campaign.Platform), deviceType)
	}
	t.events.Publish(eventlog.Event{
		Type:       "visit",
		CampaignID: campaign.ID,
		SessionID:  in.SessionID,
		VisitID:    v.ID,
		DeviceType: deviceType,
		Country:    country,
		OccurredAt: now,
	})
	t.logger.Debug("visit tracked",
		zap.String("visit_id", v.ID),
		zap.String("campaign_id", campaign.ID),
		zap.String("session_id", in.SessionID))
	return v, nil
}

// RecordActivity extends a visit's attribution window: last activity
// moves to now and the expiry slides to now+window. The original
// visited_at is untouched so last-touch ordering stays stable.
func (t *Tracker) RecordActivity(ctx context.Context, visitID string) (*models.Visit, error) {
	v, err := t.visits.TouchVisit(ctx, visitID, t.now(), t.window)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RecordSessionActivity touches the most recent visit of a session.
// This is the form storefront heartbeats use; they know the session
// cookie, not visit ids.
func (t *Tracker) RecordSessionActivity(ctx context.Context, sessionID string) (*models.Visit, error) {
	v, err := t.visits.TouchSession(ctx, sessionID, t.now(), t.window)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetVisit returns a visit by id, models.ErrNotFound when absent.
func (t *Tracker) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	v, err := t.visits.GetVisit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("visit %s: %w", id, models.ErrNotFound)
	}
	return v, nil
}

// ListSessionVisits returns every visit recorded for a session.
func (t *Tracker) ListSessionVisits(ctx context.Context, sessionID string) ([]*models.Visit, error) {
	return t.visits.ListBySession(ctx, sessionID)
}

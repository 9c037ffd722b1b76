package attribution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
)

func newTestAnalytics(env *testEnv) *Analytics {
	return NewAnalytics(env.campaigns, env.visits, zap.NewNop())
}

// seedTraffic records visits for the campaign across distinct
// sessions and converts the first convert of them at revenue apiece.
func seedTraffic(t *testing.T, env *testEnv, c *models.Campaign, visits, convert int, revenue float64) {
	t.Helper()
	ctx := context.Background()
	rec := newTestRecorder(env)
	for i := 0; i < visits; i++ {
		sessionID := fmt.Sprintf("%s-sess-%d", c.ID, i)
		v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: sessionID})
		require.NoError(t, err)
		if i < convert {
			_, err = rec.Record(ctx, v.ID, fmt.Sprintf("order-%s-%d", c.ID, i), "", revenue)
			require.NoError(t, err)
		}
	}
}

func TestCampaignMetricsDerivedValues(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 250)
	seedTraffic(t, env, c, 50, 5, 150)

	m, err := newTestAnalytics(env).CampaignMetrics(context.Background(), c.ID, models.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, int64(50), m.TotalVisits)
	assert.Equal(t, int64(50), m.UniqueVisitors)
	assert.Equal(t, int64(5), m.TotalConversions)
	assert.Equal(t, 750.0, m.TotalRevenue)
	assert.Equal(t, 10.0, m.ConversionRate)
	assert.Equal(t, 150.0, m.AverageOrderValue)
	assert.Equal(t, 200.0, m.ROI)
	assert.Equal(t, 5.0, m.CostPerVisit)
	assert.Equal(t, 50.0, m.CostPerConversion)
}

func TestCampaignMetricsZeroDenominators(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "quiet", 100)

	m, err := newTestAnalytics(env).CampaignMetrics(context.Background(), c.ID, models.DateRange{})
	require.NoError(t, err)

	assert.Equal(t, int64(0), m.TotalVisits)
	assert.Equal(t, 0.0, m.ConversionRate)
	assert.Equal(t, 0.0, m.AverageOrderValue)
	assert.Equal(t, 0.0, m.CostPerVisit)
	assert.Equal(t, 0.0, m.CostPerConversion)
	// 100 spent, nothing back.
	assert.Equal(t, -100.0, m.ROI)
}

func TestCampaignMetricsZeroCost(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "organic", 0)
	seedTraffic(t, env, c, 10, 2, 50)

	m, err := newTestAnalytics(env).CampaignMetrics(context.Background(), c.ID, models.DateRange{})
	require.NoError(t, err)

	// Zero cost never divides; ROI pins to 0 rather than infinity.
	assert.Equal(t, 0.0, m.ROI)
	assert.Equal(t, 0.0, m.CostPerVisit)
	assert.Equal(t, 100.0, m.TotalRevenue)
}

func TestCampaignMetricsUnknownCampaign(t *testing.T) {
	env := newTestEnv(t)
	_, err := newTestAnalytics(env).CampaignMetrics(context.Background(), "missing", models.DateRange{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCampaignMetricsDateWindow(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "early"})
	require.NoError(t, err)
	env.advance(48 * time.Hour)
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "late"})
	require.NoError(t, err)

	start := env.now.Add(-time.Hour)
	m, err := newTestAnalytics(env).CampaignMetrics(ctx, c.ID, models.DateRange{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalVisits)

	// Start is inclusive, end exclusive.
	exactStart := env.now
	exactEnd := env.now
	m, err = newTestAnalytics(env).CampaignMetrics(ctx, c.ID, models.DateRange{Start: &exactStart, End: &exactEnd})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.TotalVisits)

	end := env.now.Add(time.Second)
	m, err = newTestAnalytics(env).CampaignMetrics(ctx, c.ID, models.DateRange{Start: &exactStart, End: &end})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalVisits)
}

func TestUniqueVisitorsCountsSessions(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "same-session"})
		require.NoError(t, err)
	}
	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "other-session"})
	require.NoError(t, err)

	m, err := newTestAnalytics(env).CampaignMetrics(ctx, c.ID, models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.TotalVisits)
	assert.Equal(t, int64(2), m.UniqueVisitors)
}

func TestTimelineGroupsByDay(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()
	rec := newTestRecorder(env)

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "d1-a"})
	require.NoError(t, err)
	_, err = rec.Record(ctx, v.ID, "order-1", "", 100)
	require.NoError(t, err)
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "d1-b"})
	require.NoError(t, err)

	env.advance(24 * time.Hour)
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "d2-a"})
	require.NoError(t, err)

	days, err := newTestAnalytics(env).Timeline(ctx, c.ID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.True(t, days[0].Date.Before(days[1].Date))
	assert.Equal(t, int64(2), days[0].Visits)
	assert.Equal(t, int64(1), days[0].Conversions)
	assert.Equal(t, 100.0, days[0].Revenue)
	assert.Equal(t, int64(1), days[1].Visits)
	assert.Equal(t, int64(0), days[1].Conversions)
}

func TestDeviceBreakdownOrdering(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	track := func(n int, device string) {
		for i := 0; i < n; i++ {
			_, err := env.tracker.Track(ctx, TrackInput{
				TrackingCode: c.TrackingCode,
				SessionID:    fmt.Sprintf("%s-%d", device, i),
				DeviceType:   device,
			})
			require.NoError(t, err)
		}
	}
	track(1, "tablet")
	track(3, "mobile")
	track(2, "desktop")

	rows, err := newTestAnalytics(env).DeviceBreakdown(ctx, c.ID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "mobile", rows[0].DeviceType)
	assert.Equal(t, int64(3), rows[0].Visits)
	assert.Equal(t, "desktop", rows[1].DeviceType)
	assert.Equal(t, "tablet", rows[2].DeviceType)
}

func TestGeographicBreakdown(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()
	rec := newTestRecorder(env)

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "us-1", Country: "US"})
	require.NoError(t, err)
	_, err = rec.Record(ctx, v.ID, "order-1", "", 200)
	require.NoError(t, err)
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "us-2", Country: "US"})
	require.NoError(t, err)
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "de-1", Country: "DE"})
	require.NoError(t, err)
	// No country recorded at all.
	_, err = env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "anon-1"})
	require.NoError(t, err)

	rows, err := newTestAnalytics(env).GeographicBreakdown(ctx, c.ID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "US", rows[0].Country)
	assert.Equal(t, int64(2), rows[0].Visits)
	assert.Equal(t, int64(1), rows[0].Conversions)
	assert.Equal(t, 200.0, rows[0].Revenue)

	countries := []string{rows[1].Country, rows[2].Country}
	assert.Contains(t, countries, "DE")
	assert.Contains(t, countries, "unknown")
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 33.33, round2(100.0/3.0))
	assert.Equal(t, 0.1, round2(0.1))
	assert.Equal(t, 2.68, round2(2.675000001))
}

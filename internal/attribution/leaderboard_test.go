package attribution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
)

func newTestLeaderboard(env *testEnv) *Leaderboard {
	return NewLeaderboard(env.campaigns, env.visits, zap.NewNop())
}

func TestLeaderboardByRevenue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	low := env.createCampaign(t, "low", 10)
	env.createCampaign(t, "zero", 10)
	high := env.createCampaign(t, "high", 10)

	seedTraffic(t, env, low, 5, 3, 250)  // 750
	seedTraffic(t, env, high, 5, 4, 300) // 1200

	entries, err := newTestLeaderboard(env).Rank(ctx, MetricRevenue, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, high.ID, entries[0].Metrics.CampaignID)
	assert.Equal(t, 1200.0, entries[0].Metrics.TotalRevenue)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, low.ID, entries[1].Metrics.CampaignID)
	assert.Equal(t, 750.0, entries[1].Metrics.TotalRevenue)
}

func TestLeaderboardExcludesInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.createCampaign(t, "retired", 0)
	seedTraffic(t, env, c, 10, 0, 0)
	active := false
	_, err := env.registry.Update(ctx, c.ID, UpdateCampaignInput{IsActive: &active})
	require.NoError(t, err)

	keeper := env.createCampaign(t, "keeper", 0)
	seedTraffic(t, env, keeper, 1, 0, 0)

	entries, err := newTestLeaderboard(env).Rank(ctx, MetricVisits, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keeper.ID, entries[0].Metrics.CampaignID)
}

func TestLeaderboardByVisitsAndConversions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	busy := env.createCampaign(t, "busy", 0)
	effective := env.createCampaign(t, "effective", 0)
	seedTraffic(t, env, busy, 10, 1, 50)
	seedTraffic(t, env, effective, 4, 3, 50)

	entries, err := newTestLeaderboard(env).Rank(ctx, MetricVisits, 10)
	require.NoError(t, err)
	assert.Equal(t, busy.ID, entries[0].Metrics.CampaignID)

	entries, err = newTestLeaderboard(env).Rank(ctx, MetricConversions, 10)
	require.NoError(t, err)
	assert.Equal(t, effective.ID, entries[0].Metrics.CampaignID)
}

func TestLeaderboardByROI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	thrifty := env.createCampaign(t, "thrifty", 10)
	spender := env.createCampaign(t, "spender", 1000)
	seedTraffic(t, env, thrifty, 2, 1, 100)  // roi 900
	seedTraffic(t, env, spender, 20, 5, 100) // roi -50

	entries, err := newTestLeaderboard(env).Rank(ctx, MetricROI, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, thrifty.ID, entries[0].Metrics.CampaignID)
	assert.Equal(t, 900.0, entries[0].Metrics.ROI)
	assert.Equal(t, -50.0, entries[1].Metrics.ROI)
}

func TestLeaderboardTieBreakDeterministic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		c := env.createCampaign(t, name, 0)
		seedTraffic(t, env, c, 2, 0, 0)
	}

	lb := newTestLeaderboard(env)
	first, err := lb.Rank(ctx, MetricVisits, 10)
	require.NoError(t, err)

	// All tied on every metric; order must be stable across calls and
	// sorted by campaign id.
	for i := 0; i < 5; i++ {
		again, err := lb.Rank(ctx, MetricVisits, 10)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Metrics.CampaignID, again[j].Metrics.CampaignID)
		}
	}
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].Metrics.CampaignID, first[i].Metrics.CampaignID)
	}
}

func TestLeaderboardUnknownMetric(t *testing.T) {
	env := newTestEnv(t)
	_, err := newTestLeaderboard(env).Rank(context.Background(), "ctr", 10)
	assert.ErrorIs(t, err, ErrUnknownMetric)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestLeaderboardNoCampaigns(t *testing.T) {
	env := newTestEnv(t)
	entries, err := newTestLeaderboard(env).Rank(context.Background(), MetricRevenue, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

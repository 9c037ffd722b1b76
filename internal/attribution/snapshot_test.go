package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

func TestBuildDailySnapshot(t *testing.T) {
	env := newTestEnv(t)
	snapshots := storage.NewMemorySnapshotRepo()
	c := env.createCampaign(t, "summer", 250)
	seedTraffic(t, env, c, 50, 5, 150)

	snapper := NewSnapshotter(env.campaigns, env.visits, snapshots, zap.NewNop())
	snap, err := snapper.BuildDaily(context.Background(), c.ID, env.now)
	require.NoError(t, err)

	assert.Equal(t, c.ID, snap.CampaignID)
	assert.Nil(t, snap.Hour)
	assert.Equal(t, int64(50), snap.Visits)
	assert.Equal(t, int64(50), snap.UniqueVisitors)
	assert.Equal(t, int64(5), snap.Conversions)
	assert.Equal(t, 750.0, snap.Revenue)
	assert.Equal(t, 10.0, snap.ConversionRate)
	assert.Equal(t, 200.0, snap.ROI)
	assert.Equal(t, 150.0, snap.AverageOrderValue)

	// The date is normalized to UTC midnight.
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), snap.Date)
}

func TestBuildDailySnapshotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	snapshots := storage.NewMemorySnapshotRepo()
	c := env.createCampaign(t, "summer", 0)
	seedTraffic(t, env, c, 3, 0, 0)

	snapper := NewSnapshotter(env.campaigns, env.visits, snapshots, zap.NewNop())
	ctx := context.Background()

	_, err := snapper.BuildDaily(ctx, c.ID, env.now)
	require.NoError(t, err)

	// More traffic lands, rebuild overwrites in place.
	seedTraffic(t, env, c, 2, 0, 0)
	_, err = snapper.BuildDaily(ctx, c.ID, env.now)
	require.NoError(t, err)

	snaps, err := snapper.List(ctx, c.ID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(5), snaps[0].Visits)
}

func TestBuildDailySnapshotScopesToDay(t *testing.T) {
	env := newTestEnv(t)
	snapshots := storage.NewMemorySnapshotRepo()
	c := env.createCampaign(t, "summer", 0)

	seedTraffic(t, env, c, 2, 0, 0)
	day1 := env.now
	env.advance(24 * time.Hour)
	seedTraffic(t, env, c, 3, 0, 0)

	snapper := NewSnapshotter(env.campaigns, env.visits, snapshots, zap.NewNop())
	snap, err := snapper.BuildDaily(context.Background(), c.ID, day1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Visits)
}

func TestBuildDailySnapshotUnknownCampaign(t *testing.T) {
	env := newTestEnv(t)
	snapper := NewSnapshotter(env.campaigns, env.visits, storage.NewMemorySnapshotRepo(), zap.NewNop())

	_, err := snapper.BuildDaily(context.Background(), "missing", env.now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveLastTouch(t *testing.T) {
	env := newTestEnv(t)
	a := env.createCampaign(t, "first-touch", 0)
	b := env.createCampaign(t, "last-touch", 0)
	ctx := context.Background()

	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: a.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)
	env.advance(time.Hour)
	later, err := env.tracker.Track(ctx, TrackInput{TrackingCode: b.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	resolver := NewResolver(env.visits, nil)
	v, err := resolver.ResolveAt(ctx, "sess-1", env.now)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, later.ID, v.ID)
	assert.Equal(t, b.ID, v.CampaignID)
}

func TestResolveNoSession(t *testing.T) {
	env := newTestEnv(t)
	resolver := NewResolver(env.visits, nil)

	v, err := resolver.ResolveAt(context.Background(), "ghost", env.now)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveExpiredVisit(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	resolver := NewResolver(env.visits, nil)

	// Just inside the window.
	v, err := resolver.ResolveAt(ctx, "sess-1", env.now.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, v)

	// Just past it.
	v, err = resolver.ResolveAt(ctx, "sess-1", env.now.Add(30*24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveActivityExtendsEligibility(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	env.advance(25 * 24 * time.Hour)
	_, err = env.tracker.RecordActivity(ctx, v.ID)
	require.NoError(t, err)

	// 40 days after the original visit, but inside the slid window.
	resolver := NewResolver(env.visits, nil)
	got, err := resolver.ResolveAt(ctx, "sess-1", v.VisitedAt.Add(40*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v.ID, got.ID)
}

func TestResolveSkipsConvertedVisits(t *testing.T) {
	env := newTestEnv(t)
	a := env.createCampaign(t, "older", 0)
	b := env.createCampaign(t, "newer", 0)
	ctx := context.Background()

	older, err := env.tracker.Track(ctx, TrackInput{TrackingCode: a.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)
	env.advance(time.Hour)
	newer, err := env.tracker.Track(ctx, TrackInput{TrackingCode: b.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	resolver := NewResolver(env.visits, nil)
	recorder := NewRecorder(env.visits, resolver, zap.NewNop())

	_, err = recorder.Record(ctx, newer.ID, "order-1", "cust-1", 100)
	require.NoError(t, err)

	// The converted last-touch visit is out; credit falls back to the
	// older one.
	v, err := resolver.ResolveAt(ctx, "sess-1", env.now)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, older.ID, v.ID)
}

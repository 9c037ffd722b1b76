package attribution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
)

func newTestRecorder(env *testEnv) *Recorder {
	resolver := NewResolver(env.visits, nil)
	resolver.now = func() time.Time { return env.now }
	return NewRecorder(env.visits, resolver, zap.NewNop())
}

func TestRecordConversion(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	rec := newTestRecorder(env)
	conv, err := rec.Record(ctx, v.ID, "order-1", "cust-1", 149.99)
	require.NoError(t, err)

	assert.Equal(t, c.ID, conv.CampaignID)
	assert.Equal(t, v.ID, conv.VisitID)
	assert.Equal(t, "order-1", conv.OrderID)
	assert.Equal(t, 149.99, conv.Revenue)

	// The visit carries the conversion flags atomically.
	got, err := env.tracker.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.Converted)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, "cust-1", got.CustomerID)
	require.NotNil(t, got.ConvertedAt)
}

func TestRecordDoubleConversion(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	rec := newTestRecorder(env)
	_, err = rec.Record(ctx, v.ID, "order-1", "cust-1", 100)
	require.NoError(t, err)

	_, err = rec.Record(ctx, v.ID, "order-2", "cust-1", 200)
	assert.ErrorIs(t, err, models.ErrConflict)

	// The first conversion is untouched.
	conv, err := env.visits.GetConversionByVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-1", conv.OrderID)
	assert.Equal(t, 100.0, conv.Revenue)
}

func TestRecordUnknownVisit(t *testing.T) {
	env := newTestEnv(t)
	rec := newTestRecorder(env)

	_, err := rec.Record(context.Background(), "missing", "order-1", "", 100)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordConcurrentExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	v, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	rec := newTestRecorder(env)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rec.Record(ctx, v.ID, "order-1", "cust-1", 100)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, errors.Is(err, models.ErrConflict), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestAttributeOrder(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)

	rec := newTestRecorder(env)
	conv, err := rec.AttributeOrder(ctx, "sess-1", "order-1", "cust-1", 750)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, c.ID, conv.CampaignID)
	assert.Equal(t, 750.0, conv.Revenue)
}

func TestAttributeOrderNoAttribution(t *testing.T) {
	env := newTestEnv(t)
	rec := newTestRecorder(env)
	ctx := context.Background()

	// Unknown session: clean no-op, not an error.
	conv, err := rec.AttributeOrder(ctx, "ghost", "order-1", "cust-1", 100)
	require.NoError(t, err)
	assert.Nil(t, conv)

	// Empty session id likewise.
	conv, err = rec.AttributeOrder(ctx, "", "order-2", "cust-1", 100)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestAttributeOrderExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t, "summer", 0)
	ctx := context.Background()

	_, err := env.tracker.Track(ctx, TrackInput{TrackingCode: c.TrackingCode, SessionID: "sess-1"})
	require.NoError(t, err)
	env.advance(31 * 24 * time.Hour)

	rec := newTestRecorder(env)
	rec.resolver.now = func() time.Time { return env.now }

	conv, err := rec.AttributeOrder(ctx, "sess-1", "order-1", "cust-1", 100)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

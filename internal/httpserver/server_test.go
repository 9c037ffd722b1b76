package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/attribution"
	"github.com/shoptrail/attribution/internal/config"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

type serverFixture struct {
	handler   http.Handler
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	snapshots storage.SnapshotRepo
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		campaigns: storage.NewMemoryCampaignRepo(),
		visits:    storage.NewMemoryVisitStore(),
		snapshots: storage.NewMemorySnapshotRepo(),
	}
	f.handler = NewServer(&Dependencies{
		Campaigns: f.campaigns,
		Visits:    f.visits,
		Snapshots: f.snapshots,
		Config: &config.Config{
			Attribution: config.AttributionConfig{Window: 30 * 24 * time.Hour},
		},
		Logger: zap.NewNop(),
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestServerSharesStoresWithWorkers(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/campaigns",
		`{"name":"summer","platform":"google","type":"cpc","cost":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	rec = f.do(t, http.MethodPost, "/track/visit",
		`{"tracking_code":"`+c.TrackingCode+`","session_id":"sess-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// A snapshotter built on the same stores sees the handler's writes.
	snapper := attribution.NewSnapshotter(f.campaigns, f.visits, f.snapshots, zap.NewNop())
	snap, err := snapper.BuildDaily(context.Background(), c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Visits)

	snaps, err := f.snapshots.ListByCampaign(context.Background(), c.ID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestServerTrackUnknownCode(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/track/visit",
		`{"tracking_code":"NOPE","session_id":"sess-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

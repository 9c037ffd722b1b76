package attribution

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

func newTestRegistry() (*Registry, *storage.MemoryCampaignRepo, *storage.MemoryVisitStore) {
	campaigns := storage.NewMemoryCampaignRepo()
	visits := storage.NewMemoryVisitStore()
	snapshots := storage.NewMemorySnapshotRepo()
	return NewRegistry(campaigns, visits, snapshots, zap.NewNop()), campaigns, visits
}

func TestGenerateTrackingCode(t *testing.T) {
	tests := []struct {
		name     string
		platform models.Platform
		prefix   string
	}{
		{"Summer Sale", models.PlatformGoogle, "GOO-SUMMER_SALE-"},
		{"black-friday 2024!", models.PlatformFacebook, "FAC-BLACK_FRIDAY_2024_-"},
		{"email blast", models.PlatformEmail, "EMA-EMAIL_BLAST-"},
		{"a really long campaign name here", models.PlatformTikTok, "TIK-A_REALLY_LONG_CAMPAI-"},
	}

	for _, tt := range tests {
		code := GenerateTrackingCode(tt.name, tt.platform)
		assert.True(t, strings.HasPrefix(code, tt.prefix), "code %q should start with %q", code, tt.prefix)

		suffix := code[strings.LastIndex(code, "-")+1:]
		assert.Len(t, suffix, 6)
	}
}

func TestGenerateTrackingCodeUniqueAcrossNames(t *testing.T) {
	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		name := fmt.Sprintf("campaign %d", i)
		code := GenerateTrackingCode(name, models.PlatformGoogle)
		if prev, ok := seen[code]; ok {
			t.Fatalf("code %q generated for both %q and %q", code, prev, name)
		}
		seen[code] = name
	}
}

func TestGenerateTrackingCodeTruncatesName(t *testing.T) {
	code := GenerateTrackingCode("abcdefghijklmnopqrstuvwxyz", models.PlatformGoogle)
	parts := strings.Split(code, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRST", parts[1])
}

func TestRegistryCreate(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	c, err := reg.Create(ctx, CreateCampaignInput{
		Name:     "Summer Sale",
		Platform: models.PlatformGoogle,
		Type:     models.CampaignTypeCPC,
		Cost:     250,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.True(t, c.IsActive)
	assert.True(t, strings.HasPrefix(c.TrackingCode, "GOO-"))

	got, err := reg.GetByTrackingCode(ctx, c.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestRegistryCreateDuplicateCode(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Create(ctx, CreateCampaignInput{
		Name: "a", Platform: models.PlatformGoogle, TrackingCode: "GOO-A-000001",
	})
	require.NoError(t, err)

	_, err = reg.Create(ctx, CreateCampaignInput{
		Name: "b", Platform: models.PlatformGoogle, TrackingCode: "GOO-A-000001",
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegistryCreateUnknownParent(t *testing.T) {
	reg, _, _ := newTestRegistry()

	_, err := reg.Create(context.Background(), CreateCampaignInput{
		Name: "child", Platform: models.PlatformGoogle, ParentID: "missing",
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegistryRejectsCycles(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	root, err := reg.Create(ctx, CreateCampaignInput{Name: "root", Platform: models.PlatformGoogle})
	require.NoError(t, err)
	mid, err := reg.Create(ctx, CreateCampaignInput{Name: "mid", Platform: models.PlatformGoogle, ParentID: root.ID})
	require.NoError(t, err)
	leaf, err := reg.Create(ctx, CreateCampaignInput{Name: "leaf", Platform: models.PlatformGoogle, ParentID: mid.ID})
	require.NoError(t, err)

	// Reparenting the root under its grandchild would close a cycle.
	_, err = reg.Update(ctx, root.ID, UpdateCampaignInput{ParentID: &leaf.ID})
	assert.ErrorIs(t, err, models.ErrInvalidHierarchy)

	// Self-parenting is a degenerate cycle.
	_, err = reg.Update(ctx, root.ID, UpdateCampaignInput{ParentID: &root.ID})
	assert.ErrorIs(t, err, models.ErrInvalidHierarchy)

	// A sibling move stays legal.
	_, err = reg.Update(ctx, leaf.ID, UpdateCampaignInput{ParentID: &root.ID})
	assert.NoError(t, err)
}

func TestRegistryUpdateFields(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	c, err := reg.Create(ctx, CreateCampaignInput{Name: "a", Platform: models.PlatformGoogle, Cost: 100})
	require.NoError(t, err)

	cost := 300.0
	active := false
	updated, err := reg.Update(ctx, c.ID, UpdateCampaignInput{Cost: &cost, IsActive: &active})
	require.NoError(t, err)
	assert.Equal(t, 300.0, updated.Cost)
	assert.False(t, updated.IsActive)
	// Untouched fields survive.
	assert.Equal(t, "a", updated.Name)
	assert.Equal(t, c.TrackingCode, updated.TrackingCode)
}

func TestRegistryDeleteCascades(t *testing.T) {
	reg, campaigns, visits := newTestRegistry()
	ctx := context.Background()

	parent, err := reg.Create(ctx, CreateCampaignInput{Name: "parent", Platform: models.PlatformGoogle})
	require.NoError(t, err)
	child, err := reg.Create(ctx, CreateCampaignInput{Name: "child", Platform: models.PlatformGoogle, ParentID: parent.ID})
	require.NoError(t, err)

	tracker := NewTracker(campaigns, visits, 0, zap.NewNop())
	v, err := tracker.Track(ctx, TrackInput{TrackingCode: parent.TrackingCode, SessionID: "s1"})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, parent.ID))

	_, err = reg.Get(ctx, parent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	gone, err := visits.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// The child survives as a root.
	orphan, err := reg.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, orphan.ParentID)
}

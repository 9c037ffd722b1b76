package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shoptrail/attribution/internal/models"
)

// MemorySnapshotRepo is an in-memory SnapshotRepo keyed on
// (campaign_id, date, hour), mirroring the relational unique constraint.
type MemorySnapshotRepo struct {
	mu        sync.RWMutex
	snapshots map[string]*models.Snapshot
}

func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{snapshots: make(map[string]*models.Snapshot)}
}

func snapshotKey(campaignID string, date time.Time, hour *int) string {
	h := -1
	if hour != nil {
		h = *hour
	}
	return fmt.Sprintf("%s|%s|%d", campaignID, date.UTC().Format("2006-01-02"), h)
}

func (r *MemorySnapshotRepo) Upsert(ctx context.Context, s *models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.snapshots[snapshotKey(s.CampaignID, s.Date, s.Hour)] = &cp
	return nil
}

func (r *MemorySnapshotRepo) Get(ctx context.Context, campaignID string, date time.Time, hour *int) (*models.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.snapshots[snapshotKey(campaignID, date, hour)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *MemorySnapshotRepo) ListByCampaign(ctx context.Context, campaignID string, rng models.DateRange) ([]*models.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Snapshot, 0)
	for _, s := range r.snapshots {
		if s.CampaignID != campaignID || !rng.Contains(s.Date) {
			continue
		}
		cp := *s
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Date.Equal(res[j].Date) {
			hi, hj := -1, -1
			if res[i].Hour != nil {
				hi = *res[i].Hour
			}
			if res[j].Hour != nil {
				hj = *res[j].Hour
			}
			return hi < hj
		}
		return res[i].Date.Before(res[j].Date)
	})
	return res, nil
}

func (r *MemorySnapshotRepo) DeleteByCampaign(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.snapshots {
		if s.CampaignID == campaignID {
			delete(r.snapshots, k)
		}
	}
	return nil
}

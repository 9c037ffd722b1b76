package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/shoptrail/attribution/internal/models"
)

// MemoryCampaignRepo is an in-memory CampaignRepo. It backs tests and
// deployments without PostgreSQL; the tracking-code uniqueness
// constraint is enforced through a secondary index under the same lock.
type MemoryCampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*models.Campaign
	byCode    map[string]string // tracking_code -> campaign id
}

func NewMemoryCampaignRepo() *MemoryCampaignRepo {
	return &MemoryCampaignRepo{
		campaigns: make(map[string]*models.Campaign),
		byCode:    make(map[string]string),
	}
}

func (r *MemoryCampaignRepo) ListAll(ctx context.Context) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		res = append(res, copyCampaign(c))
	}
	sortCampaigns(res)
	return res, nil
}

func (r *MemoryCampaignRepo) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Campaign, 0)
	for _, c := range r.campaigns {
		if c.IsActive {
			res = append(res, copyCampaign(c))
		}
	}
	sortCampaigns(res)
	return res, nil
}

func (r *MemoryCampaignRepo) ListChildren(ctx context.Context, parentID string) ([]*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Campaign, 0)
	for _, c := range r.campaigns {
		if c.ParentID == parentID && parentID != "" {
			res = append(res, copyCampaign(c))
		}
	}
	sortCampaigns(res)
	return res, nil
}

func (r *MemoryCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.campaigns[id]; ok {
		return copyCampaign(c), nil
	}
	return nil, nil
}

func (r *MemoryCampaignRepo) GetByTrackingCode(ctx context.Context, code string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byCode[code]; ok {
		return copyCampaign(r.campaigns[id]), nil
	}
	return nil, nil
}

func (r *MemoryCampaignRepo) Insert(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[c.TrackingCode]; ok {
		return models.ErrConflict
	}
	if _, ok := r.campaigns[c.ID]; ok {
		return models.ErrConflict
	}
	r.campaigns[c.ID] = copyCampaign(c)
	r.byCode[c.TrackingCode] = c.ID
	return nil
}

func (r *MemoryCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.campaigns[c.ID]
	if !ok {
		return models.ErrNotFound
	}
	if c.TrackingCode != old.TrackingCode {
		if _, taken := r.byCode[c.TrackingCode]; taken {
			return models.ErrConflict
		}
		delete(r.byCode, old.TrackingCode)
		r.byCode[c.TrackingCode] = c.ID
	}
	r.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (r *MemoryCampaignRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(r.byCode, c.TrackingCode)
	delete(r.campaigns, id)
	return nil
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func sortCampaigns(cs []*models.Campaign) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}

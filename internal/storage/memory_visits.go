package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shoptrail/attribution/internal/models"
)

// MemoryVisitStore is an in-memory VisitStore. Visits and conversions
// share one lock so RecordConversion keeps the at-most-once invariant
// without storage-level transactions.
type MemoryVisitStore struct {
	mu          sync.RWMutex
	visits      map[string]*models.Visit
	conversions map[string]*models.Conversion

	bySession   map[string][]string // session_id -> []visit_id
	byCampaign  map[string][]string // campaign_id -> []visit_id
	convByVisit map[string]string   // visit_id -> conversion_id
}

func NewMemoryVisitStore() *MemoryVisitStore {
	return &MemoryVisitStore{
		visits:      make(map[string]*models.Visit),
		conversions: make(map[string]*models.Conversion),
		bySession:   make(map[string][]string),
		byCampaign:  make(map[string][]string),
		convByVisit: make(map[string]string),
	}
}

// =============================================
// Visits
// =============================================

func (s *MemoryVisitStore) InsertVisit(ctx context.Context, v *models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.visits[v.ID] = &cp
	s.bySession[v.SessionID] = append(s.bySession[v.SessionID], v.ID)
	s.byCampaign[v.CampaignID] = append(s.byCampaign[v.CampaignID], v.ID)
	return nil
}

func (s *MemoryVisitStore) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.visits[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryVisitStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	res := make([]*models.Visit, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.visits[id]; ok {
			cp := *v
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VisitedAt.Before(res[j].VisitedAt) })
	return res, nil
}

func (s *MemoryVisitStore) LastActiveVisit(ctx context.Context, sessionID string, now time.Time) (*models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Visit
	for _, id := range s.bySession[sessionID] {
		v, ok := s.visits[id]
		if !ok || v.Converted || !v.IsActive(now) {
			continue
		}
		if best == nil || v.VisitedAt.After(best.VisitedAt) ||
			(v.VisitedAt.Equal(best.VisitedAt) && v.ID < best.ID) {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryVisitStore) TouchVisit(ctx context.Context, id string, now time.Time, window time.Duration) (*models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	v.LastActivityAt = now
	v.ExpiresAt = now.Add(window)
	cp := *v
	return &cp, nil
}

func (s *MemoryVisitStore) TouchSession(ctx context.Context, sessionID string, now time.Time, window time.Duration) (*models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Visit
	for _, id := range s.bySession[sessionID] {
		v, ok := s.visits[id]
		if !ok {
			continue
		}
		if latest == nil || v.VisitedAt.After(latest.VisitedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	latest.LastActivityAt = now
	latest.ExpiresAt = now.Add(window)
	cp := *latest
	return &cp, nil
}

// =============================================
// Conversions
// =============================================

func (s *MemoryVisitStore) RecordConversion(ctx context.Context, conv *models.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[conv.VisitID]
	if !ok {
		return models.ErrNotFound
	}
	if v.Converted {
		return models.ErrConflict
	}
	at := conv.ConvertedAt
	v.Converted = true
	v.ConvertedAt = &at
	v.OrderID = conv.OrderID
	v.CustomerID = conv.CustomerID

	cp := *conv
	if cp.CampaignID == "" {
		cp.CampaignID = v.CampaignID
	}
	s.conversions[cp.ID] = &cp
	s.convByVisit[cp.VisitID] = cp.ID
	return nil
}

func (s *MemoryVisitStore) GetConversion(ctx context.Context, id string) (*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversions[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryVisitStore) GetConversionByVisit(ctx context.Context, visitID string) (*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.convByVisit[visitID]; ok {
		cp := *s.conversions[id]
		return &cp, nil
	}
	return nil, nil
}

// =============================================
// Aggregations
// =============================================

func (s *MemoryVisitStore) CampaignTotals(ctx context.Context, campaignID string, r models.DateRange) (*CampaignTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := &CampaignTotals{}
	sessions := make(map[string]struct{})
	for _, id := range s.byCampaign[campaignID] {
		v, ok := s.visits[id]
		if !ok || !r.Contains(v.VisitedAt) {
			continue
		}
		t.Visits++
		sessions[v.SessionID] = struct{}{}
		if v.Converted {
			t.Conversions++
			if cid, ok := s.convByVisit[v.ID]; ok {
				t.Revenue += s.conversions[cid].Revenue
			}
		}
	}
	t.UniqueSessions = int64(len(sessions))
	return t, nil
}

func (s *MemoryVisitStore) TotalsByCampaign(ctx context.Context, ids []string, r models.DateRange) (map[string]*CampaignTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var want map[string]struct{}
	if len(ids) > 0 {
		want = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
	}

	res := make(map[string]*CampaignTotals)
	sessions := make(map[string]map[string]struct{})
	for _, v := range s.visits {
		if want != nil {
			if _, ok := want[v.CampaignID]; !ok {
				continue
			}
		}
		if !r.Contains(v.VisitedAt) {
			continue
		}
		t, ok := res[v.CampaignID]
		if !ok {
			t = &CampaignTotals{}
			res[v.CampaignID] = t
			sessions[v.CampaignID] = make(map[string]struct{})
		}
		t.Visits++
		sessions[v.CampaignID][v.SessionID] = struct{}{}
		if v.Converted {
			t.Conversions++
			if cid, ok := s.convByVisit[v.ID]; ok {
				t.Revenue += s.conversions[cid].Revenue
			}
		}
	}
	for cid, t := range res {
		t.UniqueSessions = int64(len(sessions[cid]))
	}
	return res, nil
}

func (s *MemoryVisitStore) Timeline(ctx context.Context, campaignID string, r models.DateRange) ([]*DailyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := make(map[string]*DailyTotals)
	for _, id := range s.byCampaign[campaignID] {
		v, ok := s.visits[id]
		if !ok || !r.Contains(v.VisitedAt) {
			continue
		}
		day := v.VisitedAt.UTC().Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			d, _ := time.ParseInLocation("2006-01-02", day, time.UTC)
			b = &DailyTotals{Date: d}
			buckets[day] = b
		}
		b.Visits++
		if v.Converted {
			b.Conversions++
			if cid, ok := s.convByVisit[v.ID]; ok {
				b.Revenue += s.conversions[cid].Revenue
			}
		}
	}
	res := make([]*DailyTotals, 0, len(buckets))
	for _, b := range buckets {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

func (s *MemoryVisitStore) DeviceTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*DeviceTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := make(map[string]*DeviceTotals)
	for _, id := range s.byCampaign[campaignID] {
		v, ok := s.visits[id]
		if !ok || !r.Contains(v.VisitedAt) {
			continue
		}
		device := v.DeviceType
		if device == "" {
			device = "unknown"
		}
		b, ok := buckets[device]
		if !ok {
			b = &DeviceTotals{DeviceType: device}
			buckets[device] = b
		}
		b.Visits++
		if v.Converted {
			b.Conversions++
		}
	}
	res := make([]*DeviceTotals, 0, len(buckets))
	for _, b := range buckets {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Visits == res[j].Visits {
			return res[i].DeviceType < res[j].DeviceType
		}
		return res[i].Visits > res[j].Visits
	})
	return res, nil
}

func (s *MemoryVisitStore) CountryTotals(ctx context.Context, campaignID string, r models.DateRange) ([]*CountryTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := make(map[string]*CountryTotals)
	for _, id := range s.byCampaign[campaignID] {
		v, ok := s.visits[id]
		if !ok || !r.Contains(v.VisitedAt) {
			continue
		}
		country := v.Country
		if country == "" {
			country = "unknown"
		}
		b, ok := buckets[country]
		if !ok {
			b = &CountryTotals{Country: country}
			buckets[country] = b
		}
		b.Visits++
		if v.Converted {
			b.Conversions++
			if cid, ok := s.convByVisit[v.ID]; ok {
				b.Revenue += s.conversions[cid].Revenue
			}
		}
	}
	res := make([]*CountryTotals, 0, len(buckets))
	for _, b := range buckets {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Visits == res[j].Visits {
			return res[i].Country < res[j].Country
		}
		return res[i].Visits > res[j].Visits
	})
	return res, nil
}

// =============================================
// Cleanup
// =============================================

func (s *MemoryVisitStore) DeleteByCampaign(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byCampaign[campaignID] {
		v, ok := s.visits[id]
		if !ok {
			continue
		}
		if cid, ok := s.convByVisit[id]; ok {
			delete(s.conversions, cid)
			delete(s.convByVisit, id)
		}
		ids := s.bySession[v.SessionID]
		kept := ids[:0]
		for _, sid := range ids {
			if sid != id {
				kept = append(kept, sid)
			}
		}
		if len(kept) > 0 {
			s.bySession[v.SessionID] = kept
		} else {
			delete(s.bySession, v.SessionID)
		}
		delete(s.visits, id)
	}
	delete(s.byCampaign, campaignID)
	return nil
}

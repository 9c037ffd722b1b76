package attribution

import (
	"context"
	"fmt"
	"sort"

	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// ChildSummary is one row of a parent report: a direct child's totals
// with ROI on the child's own cost.
type ChildSummary struct {
	CampaignID  string  `json:"campaign_id"`
	Name        string  `json:"name"`
	Platform    string  `json:"platform"`
	Visits      int64   `json:"visits"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	ROI         float64 `json:"roi"`
}

// PlatformSummary aggregates parent plus children by platform.
type PlatformSummary struct {
	Platform    string  `json:"platform"`
	Visits      int64   `json:"visits"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// FamilyTotals sums the parent and its direct children over the same
// window. ROI and cost per conversion still use the parent's own cost.
type FamilyTotals struct {
	TotalVisits       int64   `json:"total_visits"`
	TotalConversions  int64   `json:"total_conversions"`
	TotalRevenue      float64 `json:"total_revenue"`
	ROI               float64 `json:"roi"`
	CostPerConversion float64 `json:"cost_per_conversion"`
}

// ParentReport is the hierarchical reporting view: the parent's own
// metrics untouched, totals across parent plus direct children, a
// summary per direct child and a platform breakdown across the family.
type ParentReport struct {
	Parent            *CampaignMetrics   `json:"parent"`
	Totals            *FamilyTotals      `json:"totals"`
	Children          []*ChildSummary    `json:"children"`
	PlatformBreakdown []*PlatformSummary `json:"platform_breakdown,omitempty"`
}

// Hierarchy computes parent/child roll-ups. Child totals come from
// one grouped query over all child ids at once. Parent-level ROI and
// cost-per-conversion use the parent's own cost only; child spend is
// never summed upward.
type Hierarchy struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	analytics *Analytics
}

func NewHierarchy(campaigns storage.CampaignRepo, visits storage.VisitStore, analytics *Analytics) *Hierarchy {
	return &Hierarchy{campaigns: campaigns, visits: visits, analytics: analytics}
}

// ParentAnalytics builds the full report for a parent campaign.
func (h *Hierarchy) ParentAnalytics(ctx context.Context, parentID string, rng models.DateRange) (*ParentReport, error) {
	parent, err := h.campaigns.GetByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("campaign %s: %w", parentID, models.ErrNotFound)
	}

	parentMetrics, err := h.analytics.CampaignMetrics(ctx, parentID, rng)
	if err != nil {
		return nil, err
	}

	children, err := h.campaigns.ListChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}

	family := &FamilyTotals{
		TotalVisits:      parentMetrics.TotalVisits,
		TotalConversions: parentMetrics.TotalConversions,
		TotalRevenue:     parentMetrics.TotalRevenue,
	}
	report := &ParentReport{
		Parent:   parentMetrics,
		Totals:   family,
		Children: make([]*ChildSummary, 0, len(children)),
	}

	platformTotals := map[string]*PlatformSummary{}
	addPlatform := func(platform string, visits, conversions int64, revenue float64) {
		p, ok := platformTotals[platform]
		if !ok {
			p = &PlatformSummary{Platform: platform}
			platformTotals[platform] = p
		}
		p.Visits += visits
		p.Conversions += conversions
		p.Revenue += revenue
	}
	addPlatform(string(parent.Platform), parentMetrics.TotalVisits, parentMetrics.TotalConversions, parentMetrics.TotalRevenue)

	if len(children) > 0 {
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.ID
		}
		totalsByID, err := h.visits.TotalsByCampaign(ctx, ids, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate child totals: %w", err)
		}

		for _, child := range children {
			t := totalsByID[child.ID]
			if t == nil {
				t = &storage.CampaignTotals{}
			}
			row := &ChildSummary{
				CampaignID:  child.ID,
				Name:        child.Name,
				Platform:    string(child.Platform),
				Visits:      t.Visits,
				Conversions: t.Conversions,
				Revenue:     round2(t.Revenue),
			}
			if child.Cost > 0 {
				row.ROI = round2((t.Revenue - child.Cost) / child.Cost * 100)
			}
			report.Children = append(report.Children, row)
			addPlatform(string(child.Platform), t.Visits, t.Conversions, t.Revenue)
			family.TotalVisits += t.Visits
			family.TotalConversions += t.Conversions
			family.TotalRevenue += t.Revenue
		}
	}

	family.TotalRevenue = round2(family.TotalRevenue)
	if parent.Cost > 0 {
		family.ROI = round2((family.TotalRevenue - parent.Cost) / parent.Cost * 100)
	}
	if family.TotalConversions > 0 {
		family.CostPerConversion = round2(parent.Cost / float64(family.TotalConversions))
	}

	for _, p := range platformTotals {
		p.Revenue = round2(p.Revenue)
		report.PlatformBreakdown = append(report.PlatformBreakdown, p)
	}
	sort.Slice(report.PlatformBreakdown, func(i, j int) bool {
		a, b := report.PlatformBreakdown[i], report.PlatformBreakdown[j]
		if a.Visits != b.Visits {
			return a.Visits > b.Visits
		}
		return a.Platform < b.Platform
	})
	return report, nil
}

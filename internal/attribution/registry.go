package attribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// maxAncestorDepth bounds the parent walk so a corrupted store cannot
// spin the validator forever.
const maxAncestorDepth = 100

// Registry manages the campaign catalog: creation with generated
// tracking codes, hierarchy validation and cascade deletion. It owns
// the acyclicity invariant; repositories only enforce tracking-code
// uniqueness.
type Registry struct {
	campaigns storage.CampaignRepo
	visits    storage.VisitStore
	snapshots storage.SnapshotRepo
	logger    *zap.Logger
}

func NewRegistry(campaigns storage.CampaignRepo, visits storage.VisitStore, snapshots storage.SnapshotRepo, logger *zap.Logger) *Registry {
	return &Registry{campaigns: campaigns, visits: visits, snapshots: snapshots, logger: logger}
}

// CreateCampaignInput carries the caller-supplied fields for Create.
// TrackingCode is optional; when empty one is generated from the name
// and platform.
type CreateCampaignInput struct {
	Name         string
	Platform     models.Platform
	Type         models.CampaignType
	ParentID     string
	TrackingCode string
	Cost         float64
	Budget       float64
	StartsAt     *time.Time
	EndsAt       *time.Time
	Metadata     map[string]string
}

// Create registers a new campaign. The parent, when given, must exist;
// tracking-code collisions surface as models.ErrConflict and the
// caller retries with a regenerated code.
func (r *Registry) Create(ctx context.Context, in CreateCampaignInput) (*models.Campaign, error) {
	code := in.TrackingCode
	if code == "" {
		code = GenerateTrackingCode(in.Name, in.Platform)
	}

	if in.ParentID != "" {
		parent, err := r.campaigns.GetByID(ctx, in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up parent campaign: %w", err)
		}
		if parent == nil {
			return nil, fmt.Errorf("parent campaign %s: %w", in.ParentID, models.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	c := &models.Campaign{
		ID:           uuid.New().String(),
		ParentID:     in.ParentID,
		Name:         in.Name,
		Platform:     in.Platform,
		Type:         in.Type,
		TrackingCode: code,
		Cost:         in.Cost,
		Budget:       in.Budget,
		IsActive:     true,
		StartsAt:     in.StartsAt,
		EndsAt:       in.EndsAt,
		Metadata:     in.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := r.campaigns.Insert(ctx, c); err != nil {
		return nil, err
	}
	r.logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("tracking_code", c.TrackingCode),
		zap.String("platform", string(c.Platform)))
	return c, nil
}

// UpdateCampaignInput holds the mutable campaign fields. Nil pointers
// leave the current value untouched; ParentID distinguishes "unset"
// (nil) from "detach" (pointer to empty string).
type UpdateCampaignInput struct {
	Name     *string
	Cost     *float64
	Budget   *float64
	IsActive *bool
	ParentID *string
	StartsAt *time.Time
	EndsAt   *time.Time
	Metadata map[string]string
}

// Update applies the given changes. A parent change re-validates the
// hierarchy: the new parent must exist and must not be the campaign
// itself or any of its descendants.
func (r *Registry) Update(ctx context.Context, id string, in UpdateCampaignInput) (*models.Campaign, error) {
	c, err := r.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}

	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Cost != nil {
		c.Cost = *in.Cost
	}
	if in.Budget != nil {
		c.Budget = *in.Budget
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.StartsAt != nil {
		c.StartsAt = in.StartsAt
	}
	if in.EndsAt != nil {
		c.EndsAt = in.EndsAt
	}
	if in.Metadata != nil {
		c.Metadata = in.Metadata
	}
	if in.ParentID != nil && *in.ParentID != c.ParentID {
		if err := r.validateParent(ctx, id, *in.ParentID); err != nil {
			return nil, err
		}
		c.ParentID = *in.ParentID
	}

	c.UpdatedAt = time.Now().UTC()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := r.campaigns.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// validateParent checks that parentID exists and that linking child
// under it keeps the tree acyclic. The walk follows parent pointers
// upward from the candidate parent; hitting the child means the
// candidate is a descendant.
func (r *Registry) validateParent(ctx context.Context, childID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == childID {
		return fmt.Errorf("campaign cannot be its own parent: %w", models.ErrInvalidHierarchy)
	}

	cur := parentID
	for depth := 0; depth < maxAncestorDepth; depth++ {
		p, err := r.campaigns.GetByID(ctx, cur)
		if err != nil {
			return fmt.Errorf("failed to walk campaign hierarchy: %w", err)
		}
		if p == nil {
			if cur == parentID {
				return fmt.Errorf("parent campaign %s: %w", parentID, models.ErrNotFound)
			}
			return nil
		}
		if p.ID == childID {
			return fmt.Errorf("campaign %s is an ancestor cycle through %s: %w", childID, parentID, models.ErrInvalidHierarchy)
		}
		if p.ParentID == "" {
			return nil
		}
		cur = p.ParentID
	}
	return fmt.Errorf("campaign hierarchy deeper than %d levels: %w", maxAncestorDepth, models.ErrInvalidHierarchy)
}

// Get returns a campaign by id, models.ErrNotFound when absent.
func (r *Registry) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := r.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

// GetByTrackingCode looks a campaign up by its tracking code. Paused
// campaigns resolve too; activity gating is a tracking concern.
func (r *Registry) GetByTrackingCode(ctx context.Context, code string) (*models.Campaign, error) {
	c, err := r.campaigns.GetByTrackingCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign by tracking code: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("tracking code %s: %w", code, models.ErrNotFound)
	}
	return c, nil
}

// List returns all campaigns.
func (r *Registry) List(ctx context.Context) ([]*models.Campaign, error) {
	return r.campaigns.ListAll(ctx)
}

// ListChildren returns the direct children of a campaign.
func (r *Registry) ListChildren(ctx context.Context, parentID string) ([]*models.Campaign, error) {
	p, err := r.campaigns.GetByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up parent campaign: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("campaign %s: %w", parentID, models.ErrNotFound)
	}
	return r.campaigns.ListChildren(ctx, parentID)
}

// Delete removes the campaign together with its visits, conversions
// and snapshots. Direct children are detached and become roots.
func (r *Registry) Delete(ctx context.Context, id string) error {
	c, err := r.campaigns.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign %s: %w", id, models.ErrNotFound)
	}
	children, err := r.campaigns.ListChildren(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list children: %w", err)
	}
	for _, child := range children {
		child.ParentID = ""
		child.UpdatedAt = time.Now().UTC()
		if err := r.campaigns.Update(ctx, child); err != nil {
			return fmt.Errorf("failed to detach child campaign: %w", err)
		}
	}
	if err := r.visits.DeleteByCampaign(ctx, id); err != nil {
		return err
	}
	if err := r.snapshots.DeleteByCampaign(ctx, id); err != nil {
		return err
	}
	if err := r.campaigns.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info("campaign deleted", zap.String("campaign_id", id))
	return nil
}

// GenerateTrackingCode builds a human-scannable unique code:
// 3-letter platform prefix, sanitized name (non-alphanumerics become
// underscores, capped at 20 chars) and a 6-digit time suffix. Two
// campaigns sharing a truncated name within the same millisecond can
// collide; Create surfaces that as models.ErrConflict and callers
// regenerate.
func GenerateTrackingCode(name string, platform models.Platform) string {
	prefix := strings.ToUpper(string(platform))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	if len(sanitized) > 20 {
		sanitized = sanitized[:20]
	}

	suffix := time.Now().UnixMilli() % 1000000
	return fmt.Sprintf("%s-%s-%06d", prefix, sanitized, suffix)
}

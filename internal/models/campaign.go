package models

import (
	"errors"
	"time"
)

type Platform string

const (
	PlatformGoogle    Platform = "google"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformEmail     Platform = "email"
	PlatformReferral  Platform = "referral"
	PlatformOther     Platform = "other"
)

type CampaignType string

const (
	CampaignTypeCPC        CampaignType = "cpc"
	CampaignTypeCPM        CampaignType = "cpm"
	CampaignTypeSocial     CampaignType = "social"
	CampaignTypeEmail      CampaignType = "email"
	CampaignTypeInfluencer CampaignType = "influencer"
	CampaignTypeOrganic    CampaignType = "organic"
)

// Campaign is a marketing campaign that visits and conversions are
// attributed to. Campaigns form a tree via ParentID (empty for roots);
// acyclicity is enforced by the registry, not the schema.
type Campaign struct {
	ID           string       `json:"id"`
	ParentID     string       `json:"parent_id,omitempty"`
	Name         string       `json:"name"`
	Platform     Platform     `json:"platform"`
	Type         CampaignType `json:"type"`
	TrackingCode string       `json:"tracking_code"`

	// Cost is the spend used in ROI / cost-per-* metrics. Budget is
	// advisory and never enters a formula.
	Cost   float64 `json:"cost"`
	Budget float64 `json:"budget,omitempty"`

	IsActive bool       `json:"is_active"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Campaign) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Platform == "" {
		return errors.New("platform is required")
	}
	if c.TrackingCode == "" {
		return errors.New("tracking_code is required")
	}
	if c.Cost < 0 {
		return errors.New("cost must be >= 0")
	}
	if c.ParentID != "" && c.ParentID == c.ID {
		return errors.New("campaign cannot be its own parent")
	}
	return nil
}

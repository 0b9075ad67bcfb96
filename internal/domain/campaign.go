package domain

import "time"

// Campaign statuses.
const (
	CampaignDraft      = "draft"
	CampaignDispatched = "dispatched"
)

// Campaign is a bulk message batch owned by a tenant. The counters are
// incremented additively by the dispatcher, never overwritten.
type Campaign struct {
	ID           int64      `json:"id,string" form:"id"`
	TenantId     int64      `gorm:"index" json:"tenant_id,string" form:"tenant_id"`
	Name         string     `json:"name" form:"name"`
	Message      string     `json:"message" form:"message"`
	SendInterval int        `json:"send_interval" form:"send_interval"` // seconds, floor enforced at dispatch
	Status       string     `json:"status" form:"status"`
	Sent         int64      `json:"sent"`
	Delivered    int64      `json:"delivered"`
	Failed       int64      `json:"failed"`
	DispatchedAt *time.Time `json:"dispatched_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaign"
}

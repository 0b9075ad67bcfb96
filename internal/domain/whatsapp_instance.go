package domain

import (
	"time"

	"gorm.io/gorm"
)

// WhatsappInstance persisted gateway session states.
const (
	InstanceCreated      = "created"
	InstanceConnecting   = "connecting"
	InstanceConnected    = "connected"
	InstanceDisconnected = "disconnected"
)

// WhatsappInstance is the persisted record of one tenant's gateway session.
// At most one non-deleted instance exists per tenant; teardown soft-deletes
// the row so the gateway-side name can be reconciled later.
type WhatsappInstance struct {
	ID            int64          `json:"id,string" gorm:"primaryKey"`
	TenantId      int64          `json:"tenant_id,string" gorm:"index"`
	InstanceName  string         `json:"instance_name" gorm:"uniqueIndex"`
	PhoneNumber   string         `json:"phone_number"` // set only for the pairing-code flow
	Status        string         `json:"status"`
	InstanceToken string         `json:"instance_token"`
	Integration   string         `json:"integration"`
	LastSeenAt    *time.Time     `json:"last_seen_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

func (WhatsappInstance) TableName() string {
	return "whatsapp_instance"
}

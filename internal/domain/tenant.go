package domain

import "time"

// Tenant represents one shop account. The slug feeds the deterministic
// gateway instance name.
type Tenant struct {
	ID        int64     `json:"id,string" form:"id"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Slug      string    `gorm:"uniqueIndex" json:"slug" form:"slug"`
	Email     string    `json:"email" form:"email"`
	Phone     string    `json:"phone" form:"phone"`
	Plan      string    `json:"plan" form:"plan"`
	Status    string    `json:"status" form:"status"`
	Remark    string    `json:"remark" form:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenant"
}

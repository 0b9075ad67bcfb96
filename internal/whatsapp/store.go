package whatsapp

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
)

// ErrDuplicateInstance is returned by CreateInstance when the unique
// instance-name constraint is violated; callers fall back to reconcile.
var ErrDuplicateInstance = errors.New("whatsapp: instance name already exists")

// InstanceStore is the narrow persistence contract the orchestrator consumes.
// Records are keyed by tenant or instance name; lookups return (nil, nil)
// when no row exists.
type InstanceStore interface {
	GetInstanceByTenant(ctx context.Context, tenantID int64) (*domain.WhatsappInstance, error)
	GetInstanceByName(ctx context.Context, name string) (*domain.WhatsappInstance, error)
	CreateInstance(ctx context.Context, inst *domain.WhatsappInstance) error
	// ReconcileInstance recovers from a duplicate-name conflict by adopting
	// the existing row (restoring it if soft-deleted) with inst's fields.
	ReconcileInstance(ctx context.Context, inst *domain.WhatsappInstance) (*domain.WhatsappInstance, error)
	UpdateInstanceStatus(ctx context.Context, id int64, status string, token string) error
	SoftDeleteInstance(ctx context.Context, id int64) error
	ListInstancesByStatus(ctx context.Context, status string) ([]*domain.WhatsappInstance, error)
}

// CampaignStore is what the dispatcher needs from the campaign collaborator.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error)
	MarkCampaignDispatched(ctx context.Context, id int64) error
	// AddCampaignMetrics increments the counters relative to prior values.
	AddCampaignMetrics(ctx context.Context, id int64, sent, delivered, failed int64) error
}

// Store combines everything the orchestrator persists through.
type Store interface {
	InstanceStore
	CampaignStore
}

// GormStore backs the orchestrator with the application database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetInstanceByTenant(ctx context.Context, tenantID int64) (*domain.WhatsappInstance, error) {
	var inst domain.WhatsappInstance
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *GormStore) GetInstanceByName(ctx context.Context, name string) (*domain.WhatsappInstance, error) {
	var inst domain.WhatsappInstance
	err := s.db.WithContext(ctx).Where("instance_name = ?", name).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *GormStore) CreateInstance(ctx context.Context, inst *domain.WhatsappInstance) error {
	err := s.db.WithContext(ctx).Create(inst).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return errors.Wrap(ErrDuplicateInstance, inst.InstanceName)
	}
	return err
}

func (s *GormStore) ReconcileInstance(ctx context.Context, inst *domain.WhatsappInstance) (*domain.WhatsappInstance, error) {
	// The conflicting row may be soft-deleted; adopt it either way.
	var existing domain.WhatsappInstance
	err := s.db.WithContext(ctx).Unscoped().
		Where("instance_name = ?", inst.InstanceName).First(&existing).Error
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"tenant_id":      inst.TenantId,
		"phone_number":   inst.PhoneNumber,
		"status":         inst.Status,
		"instance_token": inst.InstanceToken,
		"integration":    inst.Integration,
		"deleted_at":     nil,
		"updated_at":     time.Now(),
	}
	if err := s.db.WithContext(ctx).Unscoped().Model(&domain.WhatsappInstance{}).
		Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetInstanceByName(ctx, inst.InstanceName)
}

func (s *GormStore) UpdateInstanceStatus(ctx context.Context, id int64, status string, token string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if token != "" {
		updates["instance_token"] = token
	}
	if status == domain.InstanceConnected {
		updates["last_seen_at"] = time.Now()
	}
	return s.db.WithContext(ctx).Model(&domain.WhatsappInstance{}).
		Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) SoftDeleteInstance(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&domain.WhatsappInstance{}, id).Error
}

func (s *GormStore) ListInstancesByStatus(ctx context.Context, status string) ([]*domain.WhatsappInstance, error) {
	var insts []*domain.WhatsappInstance
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&insts).Error; err != nil {
		return nil, err
	}
	return insts, nil
}

func (s *GormStore) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	var camp domain.Campaign
	if err := s.db.WithContext(ctx).First(&camp, id).Error; err != nil {
		return nil, err
	}
	return &camp, nil
}

func (s *GormStore) MarkCampaignDispatched(ctx context.Context, id int64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&domain.Campaign{}).
		Where("id = ?", id).Updates(map[string]interface{}{
		"status":        domain.CampaignDispatched,
		"dispatched_at": now,
		"updated_at":    now,
	}).Error
}

func (s *GormStore) AddCampaignMetrics(ctx context.Context, id int64, sent, delivered, failed int64) error {
	return s.db.WithContext(ctx).Model(&domain.Campaign{}).
		Where("id = ?", id).Updates(map[string]interface{}{
		"sent":       gorm.Expr("sent + ?", sent),
		"delivered":  gorm.Expr("delivered + ?", delivered),
		"failed":     gorm.Expr("failed + ?", failed),
		"updated_at": time.Now(),
	}).Error
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation")
}

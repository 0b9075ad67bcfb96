package whatsapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/REFFIX-BR/acaiteria-sub001/config"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
)

// fakeStore is an in-memory Store with the same conflict semantics as the
// database: the instance name is unique across live and soft-deleted rows.
type fakeStore struct {
	mu        sync.Mutex
	instances []*domain.WhatsappInstance
	campaign  *domain.Campaign

	addedSent      int64
	addedDelivered int64
	addedFailed    int64
}

func (f *fakeStore) GetInstanceByTenant(ctx context.Context, tenantID int64) (*domain.WhatsappInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.TenantId == tenantID && !inst.DeletedAt.Valid {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetInstanceByName(ctx context.Context, name string) (*domain.WhatsappInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.InstanceName == name && !inst.DeletedAt.Valid {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateInstance(ctx context.Context, inst *domain.WhatsappInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.InstanceName == inst.InstanceName {
			return errors.Wrap(ErrDuplicateInstance, inst.InstanceName)
		}
	}
	cp := *inst
	f.instances = append(f.instances, &cp)
	return nil
}

func (f *fakeStore) ReconcileInstance(ctx context.Context, inst *domain.WhatsappInstance) (*domain.WhatsappInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.InstanceName == inst.InstanceName {
			existing.TenantId = inst.TenantId
			existing.PhoneNumber = inst.PhoneNumber
			existing.Status = inst.Status
			existing.InstanceToken = inst.InstanceToken
			existing.Integration = inst.Integration
			existing.DeletedAt = gorm.DeletedAt{}
			existing.UpdatedAt = time.Now()
			cp := *existing
			return &cp, nil
		}
	}
	return nil, errors.Errorf("no instance named %s", inst.InstanceName)
}

func (f *fakeStore) UpdateInstanceStatus(ctx context.Context, id int64, status string, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.ID == id {
			inst.Status = status
			inst.UpdatedAt = time.Now()
			if token != "" {
				inst.InstanceToken = token
			}
			if status == domain.InstanceConnected {
				now := time.Now()
				inst.LastSeenAt = &now
			}
			return nil
		}
	}
	return errors.Errorf("no instance %d", id)
}

func (f *fakeStore) SoftDeleteInstance(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.ID == id {
			inst.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListInstancesByStatus(ctx context.Context, status string) ([]*domain.WhatsappInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WhatsappInstance
	for _, inst := range f.instances {
		if inst.Status == status && !inst.DeletedAt.Valid {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaign == nil || f.campaign.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *f.campaign
	return &cp, nil
}

func (f *fakeStore) MarkCampaignDispatched(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaign == nil || f.campaign.ID != id {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	f.campaign.Status = domain.CampaignDispatched
	f.campaign.DispatchedAt = &now
	return nil
}

func (f *fakeStore) AddCampaignMetrics(ctx context.Context, id int64, sent, delivered, failed int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedSent += sent
	f.addedDelivered += delivered
	f.addedFailed += failed
	if f.campaign != nil && f.campaign.ID == id {
		f.campaign.Sent += sent
		f.campaign.Delivered += delivered
		f.campaign.Failed += failed
	}
	return nil
}

func (f *fakeStore) activeInstances() []*domain.WhatsappInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WhatsappInstance
	for _, inst := range f.instances {
		if !inst.DeletedAt.Valid {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out
}

// newTestService wires a Service against a fake gateway URL with timing
// knobs shrunk for tests.
func newTestService(t *testing.T, gatewayURL string, store Store) *Service {
	t.Helper()
	cfg := config.WhatsappConfig{
		GatewayURL:  gatewayURL,
		Apikey:      "test-key",
		Integration: "WHATSAPP-BAILEYS",
		Timeout:     5,
	}
	svc, err := NewService(cfg, store, EventBus.New())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.pollInterval = 10 * time.Millisecond
	svc.pollWindow = time.Second
	svc.settleDelay = 5 * time.Millisecond
	return svc
}

func testTenant() *domain.Tenant {
	return &domain.Tenant{ID: 42, Name: "Acaiteria Centro", Slug: "acaiteria_centro"}
}

package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/config"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
	"github.com/REFFIX-BR/acaiteria-sub001/pkg/common"
)

// Transient connection states held per tenant while an attempt is in
// flight. Unlike domain.WhatsappInstance statuses these are never persisted.
const (
	StateDisconnected = "disconnected"
	StateGenerating   = "generating"
	StateWaiting      = "waiting"
	StateConnected    = "connected"
	StateError        = "error"
)

// Mode selects the pairing artifact type requested from the gateway.
type Mode string

const (
	ModeQRCode  Mode = "qrcode"
	ModePairing Mode = "pairing"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollWindow   = 300 * time.Second
	defaultSettleDelay  = 2 * time.Second
)

var (
	// ErrSessionActive blocks a new connection attempt while the tenant
	// already has a live instance at the gateway.
	ErrSessionActive = errors.New("whatsapp: tenant already has an active session")
	// ErrNoInstance is returned by operations that need an existing instance.
	ErrNoInstance = errors.New("whatsapp: no instance for tenant")
)

// ConnectionState is the snapshot shown to the UI for one tenant.
type ConnectionState struct {
	Status      string `json:"status"`
	QRCode      string `json:"qrcode,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// session is the in-memory side of one connection attempt.
type session struct {
	tenantID     int64
	instanceID   int64
	instanceName string
	token        string
	mode         Mode
	phone        string
	state        ConnectionState
	cancelPoll   context.CancelFunc
}

// Service owns the per-tenant WhatsApp session lifecycle. It is constructed
// once in main with its dependencies passed in explicitly.
type Service struct {
	cfg    config.WhatsappConfig
	store  Store
	prober *Prober
	bus    EventBus.Bus

	mu       sync.RWMutex
	sessions map[int64]*session

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex

	// timing knobs, overridden in tests
	pollInterval time.Duration
	pollWindow   time.Duration
	settleDelay  time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewService validates the gateway configuration and wires the orchestrator.
// A missing gateway URL or a fully absent credential set is a startup error.
func NewService(cfg config.WhatsappConfig, store Store, bus EventBus.Bus) (*Service, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, errors.New("whatsapp: gateway url not configured")
	}
	if cfg.Apikey == "" && (cfg.LoginAccount == "" || cfg.LoginSecret == "") {
		return nil, errors.New("whatsapp: no gateway credentials configured")
	}
	hc := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	svc := &Service{
		cfg:          cfg,
		store:        store,
		prober:       NewProber(cfg.GatewayURL, NewNegotiator(cfg, hc), hc),
		bus:          bus,
		sessions:     make(map[int64]*session),
		locks:        make(map[int64]*sync.Mutex),
		pollInterval: defaultPollInterval,
		pollWindow:   defaultPollWindow,
		settleDelay:  defaultSettleDelay,
	}
	svc.sleep = svc.wait
	return svc, nil
}

// StateTopic is the event bus topic connection-state changes for a tenant
// are published on.
func StateTopic(tenantID int64) string {
	return fmt.Sprintf("whatsapp.state.%d", tenantID)
}

// RequestConnection starts (or restarts) the connection flow for a tenant.
// Returns the persisted instance and the pairing artifact; the artifact may
// be nil when the gateway has not produced one yet, in which case the UI
// retries through Artifact.
func (s *Service) RequestConnection(ctx context.Context, tenant *domain.Tenant, mode Mode, phone string) (*domain.WhatsappInstance, *Artifact, error) {
	lk := s.tenantLock(tenant.ID)
	lk.Lock()
	defer lk.Unlock()

	if err := s.reconcileExisting(ctx, tenant.ID); err != nil {
		return nil, nil, err
	}

	s.stopPoller(tenant.ID)

	name := InstanceNameFor(tenant)
	s.putSession(&session{
		tenantID:     tenant.ID,
		instanceName: name,
		mode:         mode,
		phone:        phone,
		state:        ConnectionState{Status: StateGenerating},
	})

	body := gout.H{
		"instanceName": name,
		"integration":  s.cfg.Integration,
		"qrcode":       mode == ModeQRCode,
	}
	if mode == ModePairing && phone != "" {
		body["number"] = phone
	}

	resp, err := s.prober.Call(ctx, OpCreate, name, "", body, nil)
	if errors.Is(err, ErrConflict) {
		// the gateway still holds a session under this name; delete and
		// retry the create exactly once
		zap.L().Info("whatsapp: create conflict, deleting stale gateway session",
			zap.Int64("tenant_id", tenant.ID), zap.String("instance", name))
		if _, derr := s.prober.Call(ctx, OpDelete, name, "", nil, nil); derr != nil {
			zap.L().Warn("whatsapp: stale session delete failed",
				zap.Error(derr), zap.String("instance", name))
		}
		resp, err = s.prober.Call(ctx, OpCreate, name, "", body, nil)
	}
	if err != nil {
		s.failSession(tenant.ID, "could not create gateway session")
		return nil, nil, errors.Wrap(err, "create session")
	}

	now := time.Now()
	inst := &domain.WhatsappInstance{
		ID:            common.UUIDint64(),
		TenantId:      tenant.ID,
		InstanceName:  name,
		PhoneNumber:   phone,
		Status:        domain.InstanceConnecting,
		InstanceToken: ExtractSessionToken(resp),
		Integration:   s.cfg.Integration,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		if !errors.Is(err, ErrDuplicateInstance) {
			s.failSession(tenant.ID, "could not persist session record")
			return nil, nil, err
		}
		inst, err = s.store.ReconcileInstance(ctx, inst)
		if err != nil {
			s.failSession(tenant.ID, "could not persist session record")
			return nil, nil, err
		}
	}

	artifact, err := s.fetchArtifact(ctx, inst, mode, phone)
	if err != nil {
		s.failSession(tenant.ID, "could not fetch pairing artifact")
		return nil, nil, errors.Wrap(err, "fetch artifact")
	}

	s.mu.Lock()
	sess := s.sessions[tenant.ID]
	sess.instanceID = inst.ID
	sess.token = inst.InstanceToken
	sess.state = ConnectionState{Status: StateWaiting}
	if artifact != nil {
		sess.state.QRCode = artifact.QRCode
		sess.state.PairingCode = artifact.PairingCode
	}
	state := sess.state
	s.mu.Unlock()
	s.publish(tenant.ID, state)

	s.startPoller(inst)
	return inst, artifact, nil
}

// reconcileExisting enforces the one-active-instance rule. A stale record
// the gateway no longer knows is soft-deleted so the attempt can proceed.
func (s *Service) reconcileExisting(ctx context.Context, tenantID int64) error {
	existing, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status == domain.InstanceDisconnected {
		return nil
	}
	_, err = s.prober.Call(ctx, OpStatus, existing.InstanceName, existing.InstanceToken, nil, nil)
	switch {
	case errors.Is(err, ErrNotFound):
		zap.L().Info("whatsapp: gateway lost instance, dropping stale record",
			zap.Int64("tenant_id", tenantID), zap.String("instance", existing.InstanceName))
		return s.store.SoftDeleteInstance(ctx, existing.ID)
	case err != nil:
		return errors.Wrap(err, "conflict check")
	default:
		return errors.Wrapf(ErrSessionActive, "instance %s", existing.InstanceName)
	}
}

// fetchArtifact asks the gateway for the QR or pairing code, retrying once
// after a short settle delay when the artifact is not there yet.
func (s *Service) fetchArtifact(ctx context.Context, inst *domain.WhatsappInstance, mode Mode, phone string) (*Artifact, error) {
	var query map[string]string
	if mode == ModePairing && phone != "" {
		query = map[string]string{"number": phone}
	}
	resp, err := s.prober.Call(ctx, OpConnect, inst.InstanceName, inst.InstanceToken, nil, query)
	if err != nil {
		return nil, err
	}
	if art, ok := ExtractArtifact(resp, inst.InstanceName); ok {
		return art, nil
	}
	if err := s.sleep(ctx, s.settleDelay); err != nil {
		return nil, err
	}
	resp, err = s.prober.Call(ctx, OpConnect, inst.InstanceName, inst.InstanceToken, nil, query)
	if err != nil {
		return nil, err
	}
	if art, ok := ExtractArtifact(resp, inst.InstanceName); ok {
		return art, nil
	}
	return nil, nil
}

// Artifact returns the current pairing artifact for a tenant, re-fetching
// it when the session is still waiting without one.
func (s *Service) Artifact(ctx context.Context, tenantID int64) (*Artifact, ConnectionState, error) {
	s.mu.RLock()
	sess := s.sessions[tenantID]
	var state ConnectionState
	if sess != nil {
		state = sess.state
	}
	s.mu.RUnlock()
	if sess == nil {
		state, _, err := s.Status(ctx, tenantID)
		return nil, state, err
	}
	if state.Status == StateWaiting && state.QRCode == "" && state.PairingCode == "" {
		inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
		if err != nil {
			return nil, state, err
		}
		if inst != nil {
			art, err := s.fetchArtifact(ctx, inst, sess.mode, sess.phone)
			if err != nil {
				return nil, state, errors.Wrap(err, "fetch artifact")
			}
			if art != nil {
				s.mu.Lock()
				if cur := s.sessions[tenantID]; cur != nil && cur.state.Status == StateWaiting {
					cur.state.QRCode = art.QRCode
					cur.state.PairingCode = art.PairingCode
					state = cur.state
				}
				s.mu.Unlock()
				s.publish(tenantID, state)
				return art, state, nil
			}
		}
	}
	art := &Artifact{QRCode: state.QRCode, PairingCode: state.PairingCode}
	if art.QRCode == "" && art.PairingCode == "" {
		art = nil
	}
	return art, state, nil
}

// Status reports the tenant's connection state. Without an in-flight
// attempt the persisted instance status is ground truth.
func (s *Service) Status(ctx context.Context, tenantID int64) (ConnectionState, bool, error) {
	s.mu.RLock()
	sess := s.sessions[tenantID]
	s.mu.RUnlock()
	if sess != nil {
		return sess.state, sess.state.Status == StateConnected, nil
	}
	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return ConnectionState{}, false, err
	}
	if inst != nil && inst.Status == domain.InstanceConnected {
		return ConnectionState{Status: StateConnected}, true, nil
	}
	return ConnectionState{Status: StateDisconnected}, false, nil
}

// Cancel aborts an in-flight connection attempt. Safe to call repeatedly
// and with no attempt running.
func (s *Service) Cancel(ctx context.Context, tenantID int64) error {
	lk := s.tenantLock(tenantID)
	lk.Lock()
	defer lk.Unlock()

	s.stopPoller(tenantID)
	s.mu.Lock()
	if sess := s.sessions[tenantID]; sess != nil && sess.state.Status != StateConnected {
		sess.state = ConnectionState{Status: StateDisconnected}
	}
	s.mu.Unlock()
	s.publish(tenantID, ConnectionState{Status: StateDisconnected})

	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if inst != nil && inst.Status != domain.InstanceDisconnected && inst.Status != domain.InstanceConnected {
		return s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceDisconnected, "")
	}
	return nil
}

// Logout closes the session at the gateway but keeps the instance record.
func (s *Service) Logout(ctx context.Context, tenantID int64) error {
	lk := s.tenantLock(tenantID)
	lk.Lock()
	defer lk.Unlock()

	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if inst == nil {
		return errors.Wrapf(ErrNoInstance, "tenant %d", tenantID)
	}

	s.stopPoller(tenantID)
	if _, err := s.prober.Call(ctx, OpLogout, inst.InstanceName, inst.InstanceToken, nil, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return errors.Wrap(err, "gateway logout")
	}
	if err := s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceDisconnected, ""); err != nil {
		return err
	}
	s.dropSession(tenantID)
	s.publish(tenantID, ConnectionState{Status: StateDisconnected})
	return nil
}

// Destroy removes the session on both sides. The local soft delete is
// authoritative even when the gateway could not confirm; the returned bool
// reports whether the gateway acknowledged the delete.
func (s *Service) Destroy(ctx context.Context, tenantID int64) (bool, error) {
	lk := s.tenantLock(tenantID)
	lk.Lock()
	defer lk.Unlock()

	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if inst == nil {
		return false, errors.Wrapf(ErrNoInstance, "tenant %d", tenantID)
	}

	s.stopPoller(tenantID)
	confirmed := false
	if _, err := s.prober.Call(ctx, OpDelete, inst.InstanceName, inst.InstanceToken, nil, nil); err == nil || errors.Is(err, ErrNotFound) {
		confirmed = true
	} else {
		zap.L().Warn("whatsapp: gateway delete unconfirmed",
			zap.Error(err), zap.String("instance", inst.InstanceName))
	}
	if err := s.store.SoftDeleteInstance(ctx, inst.ID); err != nil {
		return confirmed, err
	}
	s.dropSession(tenantID)
	s.publish(tenantID, ConnectionState{Status: StateDisconnected})
	return confirmed, nil
}

// Refresh reconciles the persisted status of one tenant's instance against
// the gateway without running the connection flow.
func (s *Service) Refresh(ctx context.Context, tenantID int64) error {
	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if inst == nil {
		return errors.Wrapf(ErrNoInstance, "tenant %d", tenantID)
	}
	return s.refreshInstance(ctx, inst)
}

// RefreshAll reconciles every instance believed connected. Wired as a cron
// job from main.
func (s *Service) RefreshAll(ctx context.Context) error {
	insts, err := s.store.ListInstancesByStatus(ctx, domain.InstanceConnected)
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if err := s.refreshInstance(ctx, inst); err != nil {
			zap.L().Warn("whatsapp: refresh failed",
				zap.Error(err), zap.String("instance", inst.InstanceName))
		}
	}
	return nil
}

func (s *Service) refreshInstance(ctx context.Context, inst *domain.WhatsappInstance) error {
	resp, err := s.prober.Call(ctx, OpStatus, inst.InstanceName, inst.InstanceToken, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceDisconnected, "")
	}
	if err != nil {
		return errors.Wrap(err, "status check")
	}
	if ConnectedState(resp) {
		if inst.Status != domain.InstanceConnected {
			return s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceConnected, "")
		}
		return nil
	}
	if inst.Status == domain.InstanceConnected {
		return s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceDisconnected, "")
	}
	return nil
}

// InstanceNameFor derives the stable gateway-side identifier for a tenant.
func InstanceNameFor(t *domain.Tenant) string {
	slug := t.Slug
	if slug == "" {
		slug = slugify(t.Name)
	}
	return fmt.Sprintf("%s_%d", slug, t.ID)
}

func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func (s *Service) tenantLock(tenantID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lk, ok := s.locks[tenantID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[tenantID] = lk
	}
	return lk
}

func (s *Service) putSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.tenantID] = sess
	state := sess.state
	s.mu.Unlock()
	s.publish(sess.tenantID, state)
}

func (s *Service) dropSession(tenantID int64) {
	s.mu.Lock()
	delete(s.sessions, tenantID)
	s.mu.Unlock()
}

func (s *Service) failSession(tenantID int64, msg string) {
	s.mu.Lock()
	if sess := s.sessions[tenantID]; sess != nil {
		sess.state = ConnectionState{Status: StateError, Error: msg}
	}
	s.mu.Unlock()
	s.publish(tenantID, ConnectionState{Status: StateError, Error: msg})
}

func (s *Service) publish(tenantID int64, state ConnectionState) {
	if s.bus != nil {
		s.bus.Publish(StateTopic(tenantID), state)
	}
}

// wait sleeps for d unless the context is cancelled first.
func (s *Service) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

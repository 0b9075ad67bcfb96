package whatsapp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
)

// startPoller launches the status loop for an instance. At most one poller
// runs per tenant; any previous one is cancelled first.
func (s *Service) startPoller(inst *domain.WhatsappInstance) {
	s.stopPoller(inst.TenantId)
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if sess := s.sessions[inst.TenantId]; sess != nil {
		sess.cancelPoll = cancel
	}
	s.mu.Unlock()
	go s.pollLoop(ctx, inst)
}

// stopPoller cancels the running poll loop for a tenant, if any.
func (s *Service) stopPoller(tenantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.sessions[tenantID]; sess != nil && sess.cancelPoll != nil {
		sess.cancelPoll()
		sess.cancelPoll = nil
	}
}

// pollLoop asks the gateway for connection status every tick until the
// session connects, the pairing window expires, or the context is
// cancelled. Individual tick failures are logged and swallowed.
func (s *Service) pollLoop(ctx context.Context, inst *domain.WhatsappInstance) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	window := time.NewTimer(s.pollWindow)
	defer window.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-window.C:
			zap.L().Info("whatsapp: pairing window expired",
				zap.Int64("tenant_id", inst.TenantId), zap.String("instance", inst.InstanceName))
			s.mu.Lock()
			if sess := s.sessions[inst.TenantId]; sess != nil && sess.cancelPoll != nil {
				sess.cancelPoll = nil
			}
			s.mu.Unlock()
			s.failSession(inst.TenantId, "connection window expired")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			resp, err := s.prober.Call(ctx, OpStatus, inst.InstanceName, inst.InstanceToken, nil, nil)
			if err != nil {
				zap.L().Debug("whatsapp: poll tick failed",
					zap.Error(err), zap.String("instance", inst.InstanceName))
				continue
			}
			if !ConnectedState(resp) {
				continue
			}
			// cancel may have raced the status call; no mutation after it
			if ctx.Err() != nil {
				return
			}
			if err := s.store.UpdateInstanceStatus(ctx, inst.ID, domain.InstanceConnected, ""); err != nil {
				zap.L().Warn("whatsapp: failed to persist connected status",
					zap.Error(err), zap.String("instance", inst.InstanceName))
				continue
			}
			s.mu.Lock()
			if sess := s.sessions[inst.TenantId]; sess != nil {
				sess.state = ConnectionState{Status: StateConnected}
				sess.cancelPoll = nil
			}
			s.mu.Unlock()
			s.publish(inst.TenantId, ConnectionState{Status: StateConnected})
			zap.L().Info("whatsapp: instance connected",
				zap.Int64("tenant_id", inst.TenantId), zap.String("instance", inst.InstanceName))
			return
		}
	}
}

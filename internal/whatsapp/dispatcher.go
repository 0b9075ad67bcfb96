package whatsapp

import (
	"context"
	"time"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
)

// MinSendInterval is the hard floor between consecutive sends. Gateway rate
// limits make anything faster a ban risk regardless of what the campaign asks.
const MinSendInterval = 15 * time.Second

// ErrInstanceNotReady rejects a dispatch on an instance without a usable
// session token or in a state that cannot send.
var ErrInstanceNotReady = errors.New("whatsapp: instance not ready to send")

// DispatchResult aggregates the per-recipient outcomes of one batch.
type DispatchResult struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// ProgressFunc is invoked after each recipient with the send outcome.
type ProgressFunc func(recipient string, err error)

// DispatchCampaign sends message to every recipient strictly in order,
// sleeping max(interval, MinSendInterval) between sends. The campaign is
// marked dispatched when the batch starts; a failed recipient is counted
// and the batch continues. Counters are added to the campaign record even
// when the run is cut short.
func (s *Service) DispatchCampaign(ctx context.Context, tenantID, campaignID int64, recipients []string, message string, interval time.Duration, progress ProgressFunc) (res DispatchResult, err error) {
	inst, err := s.store.GetInstanceByTenant(ctx, tenantID)
	if err != nil {
		return res, err
	}
	if inst == nil {
		return res, errors.Wrapf(ErrNoInstance, "tenant %d", tenantID)
	}
	if inst.InstanceToken == "" || !canSend(inst.Status) {
		return res, errors.Wrapf(ErrInstanceNotReady, "instance %s status %s", inst.InstanceName, inst.Status)
	}

	camp, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return res, err
	}
	if interval <= 0 {
		interval = time.Duration(camp.SendInterval) * time.Second
	}
	if interval < MinSendInterval {
		interval = MinSendInterval
	}

	if err := s.store.MarkCampaignDispatched(ctx, campaignID); err != nil {
		return res, err
	}
	defer func() {
		if merr := s.store.AddCampaignMetrics(context.Background(), campaignID, res.Sent, res.Sent, res.Failed); merr != nil {
			zap.L().Warn("whatsapp: failed to record campaign metrics",
				zap.Error(merr), zap.Int64("campaign_id", campaignID))
		}
	}()

	zap.L().Info("whatsapp: campaign dispatch started",
		zap.Int64("campaign_id", campaignID), zap.Int64("tenant_id", tenantID),
		zap.Int("recipients", len(recipients)), zap.Duration("interval", interval))

	for i, r := range recipients {
		if i > 0 {
			if werr := s.sleep(ctx, interval); werr != nil {
				return res, werr
			}
		}
		body := gout.H{"number": r, "text": message}
		_, serr := s.prober.Call(ctx, OpSend, inst.InstanceName, inst.InstanceToken, body, nil)
		if serr != nil {
			res.Failed++
			zap.L().Warn("whatsapp: campaign send failed",
				zap.Error(serr), zap.Int64("campaign_id", campaignID), zap.String("recipient", r))
		} else {
			res.Sent++
		}
		if progress != nil {
			progress(r, serr)
		}
	}

	zap.L().Info("whatsapp: campaign dispatch finished",
		zap.Int64("campaign_id", campaignID), zap.Int64("sent", res.Sent), zap.Int64("failed", res.Failed))
	return res, nil
}

// canSend reports whether an instance status permits dispatch. An instance
// that never completed pairing can still hold a usable token, so only
// disconnected is rejected outright.
func canSend(status string) bool {
	switch status {
	case domain.InstanceCreated, domain.InstanceConnecting, domain.InstanceConnected:
		return true
	}
	return false
}

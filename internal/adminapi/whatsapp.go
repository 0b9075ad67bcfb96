package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/webserver"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/whatsapp"
)

// WhatsappHandler exposes the session orchestrator over the admin API. The
// service is injected at setup, never reached through a package global.
type WhatsappHandler struct {
	svc *whatsapp.Service
}

func registerWhatsappRoutes(h *WhatsappHandler) {
	webserver.ApiPOST("/whatsapp/connections", h.createConnection)
	webserver.ApiGET("/whatsapp/connections/:tenantId/artifact", h.getArtifact)
	webserver.ApiGET("/whatsapp/connections/:tenantId/status", h.getStatus)
	webserver.ApiPOST("/whatsapp/connections/:tenantId/cancel", h.cancelConnection)
	webserver.ApiPOST("/whatsapp/connections/:tenantId/logout", h.logoutConnection)
	webserver.ApiDELETE("/whatsapp/connections/:tenantId", h.destroyConnection)
	webserver.ApiPOST("/whatsapp/connections/:tenantId/refresh", h.refreshConnection)
	webserver.ApiPOST("/whatsapp/campaigns/:id/dispatch", h.dispatchCampaign)
}

type createConnectionPayload struct {
	TenantID int64  `json:"tenant_id,string"`
	Mode     string `json:"mode"`
	Phone    string `json:"phone"`
}

func (h *WhatsappHandler) createConnection(c echo.Context) error {
	var payload createConnectionPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	mode := whatsapp.Mode(payload.Mode)
	if mode == "" {
		mode = whatsapp.ModeQRCode
	}
	if mode != whatsapp.ModeQRCode && mode != whatsapp.ModePairing {
		return fail(c, http.StatusBadRequest, "INVALID_MODE", "mode must be qrcode or pairing", nil)
	}
	if mode == whatsapp.ModePairing && strings.TrimSpace(payload.Phone) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_PHONE", "phone is required for pairing mode", nil)
	}

	var tenant domain.Tenant
	if err := GetDB(c).Where("id = ?", payload.TenantID).First(&tenant).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}

	inst, artifact, err := h.svc.RequestConnection(c.Request().Context(), &tenant, mode, payload.Phone)
	switch {
	case errors.Is(err, whatsapp.ErrSessionActive):
		return fail(c, http.StatusConflict, "SESSION_ACTIVE", "Tenant already has an active session", nil)
	case err != nil:
		zap.L().Warn("adminapi: connection request failed",
			zap.Error(err), zap.Int64("tenant_id", tenant.ID))
		return fail(c, http.StatusBadGateway, "CONNECT_FAILED", "Could not establish gateway session", err.Error())
	}
	return ok(c, echo.Map{"instance": inst, "artifact": artifact})
}

func (h *WhatsappHandler) getArtifact(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	artifact, state, err := h.svc.Artifact(c.Request().Context(), tenantID)
	if err != nil {
		return fail(c, http.StatusBadGateway, "ARTIFACT_FAILED", "Could not fetch pairing artifact", err.Error())
	}
	resp := echo.Map{"status": state.Status}
	if artifact != nil {
		resp["qrcode"] = artifact.QRCode
		resp["pairing_code"] = artifact.PairingCode
	}
	return ok(c, resp)
}

func (h *WhatsappHandler) getStatus(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	state, connected, err := h.svc.Status(c.Request().Context(), tenantID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "STATUS_FAILED", "Failed to read connection status", err.Error())
	}
	return ok(c, echo.Map{"status": state.Status, "is_connected": connected, "error": state.Error})
}

func (h *WhatsappHandler) cancelConnection(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	if err := h.svc.Cancel(c.Request().Context(), tenantID); err != nil {
		return fail(c, http.StatusInternalServerError, "CANCEL_FAILED", "Failed to cancel connection attempt", err.Error())
	}
	return ok(c, echo.Map{"success": true})
}

func (h *WhatsappHandler) logoutConnection(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	err = h.svc.Logout(c.Request().Context(), tenantID)
	switch {
	case errors.Is(err, whatsapp.ErrNoInstance):
		return fail(c, http.StatusNotFound, "NO_INSTANCE", "Tenant has no session", nil)
	case err != nil:
		return fail(c, http.StatusBadGateway, "LOGOUT_FAILED", "Gateway logout failed", err.Error())
	}
	return ok(c, echo.Map{"success": true})
}

func (h *WhatsappHandler) destroyConnection(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	confirmed, err := h.svc.Destroy(c.Request().Context(), tenantID)
	switch {
	case errors.Is(err, whatsapp.ErrNoInstance):
		return fail(c, http.StatusNotFound, "NO_INSTANCE", "Tenant has no session", nil)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "DESTROY_FAILED", "Failed to remove session", err.Error())
	}
	return ok(c, echo.Map{"success": true, "gateway_confirmed": confirmed})
}

func (h *WhatsappHandler) refreshConnection(c echo.Context) error {
	tenantID, err := parseIDParam(c, "tenantId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	err = h.svc.Refresh(c.Request().Context(), tenantID)
	switch {
	case errors.Is(err, whatsapp.ErrNoInstance):
		return fail(c, http.StatusNotFound, "NO_INSTANCE", "Tenant has no session", nil)
	case err != nil:
		return fail(c, http.StatusBadGateway, "REFRESH_FAILED", "Gateway status check failed", err.Error())
	}
	return ok(c, echo.Map{"success": true})
}

type dispatchPayload struct {
	TenantID   int64    `json:"tenant_id,string"`
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	Interval   int      `json:"interval"`
}

// dispatchCampaign accepts the batch and runs it in the background; final
// counts land on the campaign record.
func (h *WhatsappHandler) dispatchCampaign(c echo.Context) error {
	campaignID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID", nil)
	}
	var payload dispatchPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if len(payload.Recipients) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_RECIPIENTS", "recipients are required", nil)
	}

	var camp domain.Campaign
	if err := GetDB(c).Where("id = ?", campaignID).First(&camp).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "Campaign not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query campaign", err.Error())
	}

	tenantID := payload.TenantID
	if tenantID == 0 {
		tenantID = camp.TenantId
	}
	message := payload.Message
	if message == "" {
		message = camp.Message
	}

	go func() {
		_, err := h.svc.DispatchCampaign(context.Background(), tenantID, campaignID,
			payload.Recipients, message, time.Duration(payload.Interval)*time.Second, nil)
		if err != nil {
			zap.L().Warn("adminapi: campaign dispatch failed",
				zap.Error(err), zap.Int64("campaign_id", campaignID))
		}
	}()

	return c.JSON(http.StatusAccepted, echo.Map{"code": 0, "data": echo.Map{"accepted": true}})
}

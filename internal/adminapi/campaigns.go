package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/webserver"
	"github.com/REFFIX-BR/acaiteria-sub001/pkg/common"
)

func registerCampaignsRoutes() {
	webserver.ApiGET("/campaigns", listCampaigns)
	webserver.ApiGET("/campaigns/:id", getCampaign)
	webserver.ApiPOST("/campaigns", createCampaign)
	webserver.ApiPUT("/campaigns/:id", updateCampaign)
	webserver.ApiDELETE("/campaigns/:id", deleteCampaign)
}

func listCampaigns(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.Campaign{})
	if tid := strings.TrimSpace(c.QueryParam("tenant_id")); tid != "" {
		base = base.Where("tenant_id = ?", tid)
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		base = base.Where("status = ?", status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query campaigns", err.Error())
	}

	var campaigns []domain.Campaign
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&campaigns).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query campaigns", err.Error())
	}
	return paged(c, campaigns, total, page, pageSize)
}

func getCampaign(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID", nil)
	}
	var camp domain.Campaign
	if err := GetDB(c).Where("id = ?", id).First(&camp).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "Campaign not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query campaign", err.Error())
	}
	return ok(c, camp)
}

type campaignPayload struct {
	TenantID     int64  `json:"tenant_id,string"`
	Name         string `json:"name"`
	Message      string `json:"message"`
	SendInterval int    `json:"send_interval"`
}

func createCampaign(c echo.Context) error {
	var payload campaignPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse campaign parameters", nil)
	}
	if strings.TrimSpace(payload.Name) == "" || strings.TrimSpace(payload.Message) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and message are required", nil)
	}
	if payload.TenantID == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_TENANT", "tenant_id is required", nil)
	}

	camp := domain.Campaign{
		ID:           common.UUIDint64(),
		TenantId:     payload.TenantID,
		Name:         strings.TrimSpace(payload.Name),
		Message:      payload.Message,
		SendInterval: payload.SendInterval,
		Status:       domain.CampaignDraft,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := GetDB(c).Create(&camp).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create campaign", err.Error())
	}
	return ok(c, camp)
}

func updateCampaign(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID", nil)
	}
	var payload campaignPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse campaign parameters", nil)
	}
	var camp domain.Campaign
	if err := GetDB(c).Where("id = ?", id).First(&camp).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "Campaign not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query campaign", err.Error())
	}
	if camp.Status == domain.CampaignDispatched {
		return fail(c, http.StatusConflict, "CAMPAIGN_DISPATCHED", "Dispatched campaigns cannot be edited", nil)
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if payload.Name != "" {
		updates["name"] = strings.TrimSpace(payload.Name)
	}
	if payload.Message != "" {
		updates["message"] = payload.Message
	}
	if payload.SendInterval > 0 {
		updates["send_interval"] = payload.SendInterval
	}
	if err := GetDB(c).Model(&domain.Campaign{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update campaign", err.Error())
	}
	return ok(c, echo.Map{"updated": true})
}

func deleteCampaign(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid campaign ID", nil)
	}
	if err := GetDB(c).Delete(&domain.Campaign{}, id).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete campaign", err.Error())
	}
	return ok(c, echo.Map{"deleted": true})
}

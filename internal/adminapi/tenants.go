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

func registerTenantsRoutes() {
	webserver.ApiGET("/system/tenants", listTenants)
	webserver.ApiGET("/system/tenants/:id", getTenant)
	webserver.ApiPOST("/system/tenants", createTenant)
	webserver.ApiPUT("/system/tenants/:id", updateTenant)
	webserver.ApiDELETE("/system/tenants/:id", deleteTenant)
}

func listTenants(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.Tenant{})
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		base = base.Where("name ILIKE ? OR slug ILIKE ? OR email ILIKE ?",
			"%"+q+"%", "%"+q+"%", "%"+q+"%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenants", err.Error())
	}

	var tenants []domain.Tenant
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tenants).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenants", err.Error())
	}
	return paged(c, tenants, total, page, pageSize)
}

func getTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var t domain.Tenant
	if err := GetDB(c).Where("id = ?", id).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}
	return ok(c, t)
}

type tenantPayload struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Plan   string `json:"plan"`
	Status string `json:"status"`
	Remark string `json:"remark"`
}

func createTenant(c echo.Context) error {
	var payload tenantPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse tenant parameters", nil)
	}
	if strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_NAME", "Tenant name is required", nil)
	}
	if payload.Slug != "" {
		var dup domain.Tenant
		if err := GetDB(c).Where("slug = ?", payload.Slug).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_TENANT", "Tenant with this slug already exists", nil)
		}
	}

	status := payload.Status
	if status == "" {
		status = common.ENABLED
	}
	t := domain.Tenant{
		ID:        common.UUIDint64(),
		Name:      strings.TrimSpace(payload.Name),
		Slug:      payload.Slug,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Plan:      payload.Plan,
		Status:    status,
		Remark:    payload.Remark,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := GetDB(c).Create(&t).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create tenant", err.Error())
	}
	return ok(c, t)
}

func updateTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var payload tenantPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse tenant parameters", nil)
	}
	var t domain.Tenant
	if err := GetDB(c).Where("id = ?", id).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query tenant", err.Error())
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if payload.Name != "" {
		updates["name"] = strings.TrimSpace(payload.Name)
	}
	if payload.Email != "" {
		updates["email"] = payload.Email
	}
	if payload.Phone != "" {
		updates["phone"] = payload.Phone
	}
	if payload.Plan != "" {
		updates["plan"] = payload.Plan
	}
	if payload.Status != "" {
		updates["status"] = payload.Status
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	if err := GetDB(c).Model(&domain.Tenant{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update tenant", err.Error())
	}
	return ok(c, echo.Map{"updated": true})
}

func deleteTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	if err := GetDB(c).Delete(&domain.Tenant{}, id).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete tenant", err.Error())
	}
	return ok(c, echo.Map{"deleted": true})
}

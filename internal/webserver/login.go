package webserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/domain"
	"github.com/REFFIX-BR/acaiteria-sub001/pkg/common"
)

const tokenLifetime = 24 * time.Hour

type loginPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// login verifies an operator account and issues an HS256 token carrying
// the operator identity and level.
func (s *WebServer) login(c echo.Context) error {
	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": http.StatusBadRequest, "message": "unable to parse login request"})
	}
	username := strings.TrimSpace(payload.Username)
	if username == "" || payload.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": http.StatusBadRequest, "message": "username and password are required"})
	}

	var opr domain.SysOpr
	if err := s.appCtx.DB().Where("username = ?", username).First(&opr).Error; err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"code": http.StatusUnauthorized, "message": "invalid username or password"})
	}
	if opr.Status != common.ENABLED {
		return c.JSON(http.StatusUnauthorized, echo.Map{"code": http.StatusUnauthorized, "message": "account disabled"})
	}
	if opr.Password != common.Sha256HashWithSalt(payload.Password, common.GetSecretSalt()) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"code": http.StatusUnauthorized, "message": "invalid username or password"})
	}

	claims := jwt.MapClaims{
		"uid":       opr.ID,
		"username":  opr.Username,
		"level":     opr.Level,
		"tenant_id": opr.TenantId,
		"exp":       time.Now().Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		zap.L().Error("webserver: token signing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"code": http.StatusInternalServerError, "message": "login failed"})
	}

	s.appCtx.DB().Model(&domain.SysOpr{}).Where("id = ?", opr.ID).
		Update("last_login", time.Now())

	return c.JSON(http.StatusOK, echo.Map{"code": 0, "token": signed})
}

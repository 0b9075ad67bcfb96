package webserver

import (
	"fmt"
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/internal/app"
)

// WebServer hosts the admin API on echo. Routes register through the Api*
// helpers so handler packages never touch the echo instance directly.
type WebServer struct {
	appCtx app.AppContext
	root   *echo.Echo
	api    *echo.Group
	secret string
}

var server *WebServer

// Init builds the echo server with logging, recovery, JWT auth and a
// database-injection middleware, and installs the login endpoint.
func Init(appCtx app.AppContext) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	secret := appCtx.Config().Web.JwtSecret
	if secret == "" {
		secret = random.String(32)
		zap.L().Warn("webserver: jwt secret not configured, using a random one; sessions will not survive restarts")
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	// make the gorm handle reachable from handlers via GetDB
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("db", appCtx.DB())
			return next(c)
		}
	})

	s := &WebServer{appCtx: appCtx, root: e, secret: secret}

	e.POST("/api/login", s.login)

	s.api = e.Group("/api")
	s.api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
	}))

	server = s
	return s
}

// Listen blocks serving the admin API.
func Listen() error {
	cfg := server.appCtx.Config().Web
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	zap.L().Info("webserver: listening", zap.String("addr", addr))
	err := server.root.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener.
func Shutdown() {
	if server != nil {
		_ = server.root.Close()
	}
}

// ApiGET registers a GET route under the authenticated /api group.
func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

// ApiPOST registers a POST route under the authenticated /api group.
func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

// ApiPUT registers a PUT route under the authenticated /api group.
func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

// ApiDELETE registers a DELETE route under the authenticated /api group.
func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

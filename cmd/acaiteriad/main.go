package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/REFFIX-BR/acaiteria-sub001/config"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/adminapi"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/app"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/webserver"
	"github.com/REFFIX-BR/acaiteria-sub001/internal/whatsapp"
)

var (
	configFile = flag.String("c", "/etc/acaiteria.yml", "config file path")
	initDB     = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showVer    = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}

	cfg := config.LoadConfig(*configFile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDB {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	bus := EventBus.New()
	store := whatsapp.NewGormStore(application.DB())
	svc, err := whatsapp.NewService(cfg.Whatsapp, store, bus)
	if err != nil {
		zap.L().Fatal("whatsapp orchestrator init failed", zap.Error(err))
	}

	// Out-of-band reconciliation of connected sessions
	refreshCron := application.GetSettingsStringValue("whatsapp", "RefreshCron")
	if refreshCron == "" {
		refreshCron = "@every 10m"
	}
	if _, err := application.Scheduler().AddFunc(refreshCron, func() {
		if err := svc.RefreshAll(context.Background()); err != nil {
			zap.L().Warn("session refresh failed", zap.Error(err))
		}
	}); err != nil {
		zap.L().Error("failed to schedule session refresh", zap.Error(err))
	}

	webserver.Init(application)
	adminapi.Setup(svc)

	errChan := make(chan error, 1)
	go func() {
		errChan <- webserver.Listen()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			zap.L().Fatal("webserver failed", zap.Error(err))
		}
	case sig := <-sigChan:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
		webserver.Shutdown()
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/app"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// При SIGINT/SIGTERM ctx отменяется, Run гасит сервер и слушателей
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Сборка: хранилище, аудит, движок, HTTP
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// SIGHUP — logrotate закончил, переоткрываем журнал решений
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := a.ReopenLogs(); err != nil {
				logger.Error("reopen logs failed", zap.Error(err))
				continue
			}
			logger.Info("decision log reopened")
		}
	}()

	// 3. Обслуживание до сигнала
	if err := a.Run(ctx); err != nil {
		logger.Error("policy daemon stopped with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	logger.Info("policy daemon exited properly")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/console/handler"
	"github.com/xela07ax/trading-floor-prototype/internal/console/server"
	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/infra/auth"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
	"github.com/xela07ax/trading-floor-prototype/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	db, err := postgres.Open(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}
	defer db.Close()

	agentRepo := postgres.NewAgentRepo(db)
	snapshotRepo := postgres.NewSnapshotRepo(db)
	journalRepo := postgres.NewJournalRepo(db)

	// Операторские действия тоже идут в журнал, тем же батч-путем
	jrnl := journal.New(journalRepo, 50, 2*time.Second, logger)
	jrnl.Start()
	defer jrnl.Stop()

	// 3. Ключи RS256: приватный для подписи, публичный для middleware
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(agentRepo, privateKey, cfg.Auth.TokenTTL)
	agentService := service.NewAgentService(rdb, agentRepo, snapshotRepo, jrnl, validator, logger)
	journalService := service.NewJournalService(journalRepo)

	srvHandler := server.NewConsoleServer(
		cfg,
		logger,
		agentService,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService, logger),
		handler.NewJournalHandler(journalService),
		handler.NewSnapshotHandler(agentService, logger),
		handler.NewDashboardHandler(agentService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("console API stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trading-floor-prototype/internal/checkpoint"
	"github.com/xela07ax/trading-floor-prototype/internal/connectors"
	"github.com/xela07ax/trading-floor-prototype/internal/decision"
	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/floor"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/journal"
	"github.com/xela07ax/trading-floor-prototype/internal/notify"
	"github.com/xela07ax/trading-floor-prototype/internal/repository/postgres"
	"github.com/xela07ax/trading-floor-prototype/internal/resilience"
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

	// Контекст жизни процесса: SIGTERM гасит все фоновые горутины
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
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
	checkpointRepo := postgres.NewCheckpointRepo(db)
	snapshotRepo := postgres.NewSnapshotRepo(db)
	journalRepo := postgres.NewJournalRepo(db)

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := floor.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics exporter started", zap.String("addr", cfg.Floor.MetricsAddr))
		if err := http.ListenAndServe(cfg.Floor.MetricsAddr, mux); err != nil {
			logger.Error("metrics exporter stopped", zap.Error(err))
		}
	}()

	// 4. Журнал лайфцикла: батчами в Postgres
	jrnl := journal.New(journalRepo, 100, 2*time.Second, logger)
	jrnl.SetFillGauge(func(n int) { metrics.JournalBufferFill.Set(float64(n)) })
	jrnl.Start()

	// 5. Защита внешних зависимостей: rate limit -> circuit breaker -> retry
	retryPolicy := resilience.NewRetryPolicy(
		cfg.Resilience.RetryMaxAttempts,
		cfg.Resilience.RetryBaseDelay,
		cfg.Resilience.RetryMaxDelay,
		logger,
	)
	breakers := resilience.NewBreakerGroup(cfg.Resilience.CBFailureThreshold, cfg.Resilience.CBCooldown, logger)
	breakers.SetStateHook(metrics.ObserveBreaker)
	limiter := rate.NewLimiter(rate.Limit(cfg.Resilience.RateLimit), cfg.Resilience.RateBurst)
	guard := resilience.NewGuard(limiter, breakers, retryPolicy, cfg.Resilience.CallTimeout, logger)

	// 6. Чекпоинты: Postgres primary, Redis fallback
	ckptStore := checkpoint.NewStore(checkpointRepo, checkpoint.NewRedisFallback(rdb), cfg.Floor.CheckpointRetention, logger)
	ckptStore.SetDegradeHook(func(agentID string) {
		metrics.CheckpointDegradedTotal.Inc()
	})
	ckptStore.Start(appCtx)
	defer ckptStore.Stop()

	// 7. Control Plane: живость, пауза, алерты
	health := floor.NewHealthMonitor(rdb, logger)

	pauseMgr := floor.NewPauseManager(rdb, agentRepo, logger)
	if err := pauseMgr.Init(appCtx); err != nil {
		logger.Fatal("failed to init pause manager", zap.Error(err))
	}
	go pauseMgr.StartListener(appCtx)

	notifier := notify.NewRedisNotifier(rdb, logger)

	// 8. Фабрика рантаймов. В прототипе все виды стратегий обслуживает
	// mock-коннектор; боевые подключаются сюда же по agent.Kind
	factory := func(agent *domain.Agent) (*floor.AgentRuntime, error) {
		symbol, _ := agent.Config["symbol"].(string)
		if symbol == "" {
			symbol = "BTC/USD"
		}
		strategy := &connectors.MockStrategy{
			Symbol: symbol,
			Exec:   &connectors.MockExecution{Balance: agent.CapitalAllocated},
		}
		return floor.NewAgentRuntime(
			agent,
			strategy,
			"exchange", // Все агенты ходят на одну биржу: один общий breaker
			guard,
			ckptStore,
			health,
			metrics,
			cfg.Floor,
			logger,
		)
	}

	// 9. Supervisor: запуск флота
	supervisor := floor.NewSupervisor(agentRepo, health, pauseMgr, jrnl, notifier, metrics, factory, cfg.Floor, logger)
	if err := supervisor.Start(appCtx); err != nil {
		logger.Fatal("supervisor start failed", zap.Error(err))
	}

	// Сигналы retire/register из Console: "id:off" гасит таск, "id:on" поднимает
	go floor.ListenSignals(appCtx, rdb, logger, infra.RedisChanLifecycle,
		func() error { return nil },
		func(agentID string, up bool) {
			go func() {
				opCtx, opCancel := context.WithTimeout(appCtx, cfg.Floor.StopTimeout+5*time.Second)
				defer opCancel()
				if !up {
					if err := supervisor.StopAgent(opCtx, agentID, "lifecycle signal"); err != nil {
						logger.Error("lifecycle stop failed", zap.String("agent_id", agentID), zap.Error(err))
					}
					return
				}
				agent, err := agentRepo.Get(opCtx, agentID)
				if err != nil || !agent.IsRunnable() {
					return
				}
				if err := supervisor.Spawn(opCtx, agent); err != nil {
					logger.Error("lifecycle spawn failed", zap.String("agent_id", agentID), zap.Error(err))
				}
			}()
		},
	)

	// 10. Floor Boss: периодическая оценка перформанса
	boss, err := decision.NewEngine(agentRepo, snapshotRepo, supervisor, pauseMgr, jrnl, notifier, metrics, cfg.Decision, logger)
	if err != nil {
		logger.Fatal("decision engine init failed", zap.Error(err))
	}
	go boss.Run(appCtx)

	logger.Info("trading floor started",
		zap.Duration("cycle_interval", cfg.Floor.CycleInterval),
		zap.Duration("decision_interval", cfg.Decision.Interval))

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("trading floor stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Floor.StopTimeout+10*time.Second)
	defer shutdownCancel()
	supervisor.Shutdown(shutdownCtx)

	cancel()    // гасим фоновые слушатели
	jrnl.Stop() // дожимаем буфер журнала в Postgres

	logger.Info("trading floor exited properly")
}

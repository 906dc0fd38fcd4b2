package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/console/handler"
	"github.com/xela07ax/trading-floor-prototype/internal/console/service"
	"github.com/xela07ax/trading-floor-prototype/internal/infra"
	"github.com/xela07ax/trading-floor-prototype/internal/infra/auth"
)

// ScopeAdmin требуется для мутаций (pause/resume/retire/register).
const ScopeAdmin = "floor.admin"

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// AgentService реализует auth.TokenValidator через embedding BaseValidator
	agentService *service.AgentService

	authHandler     *handler.AuthHandler      // /auth/token
	agentHandler    *handler.AgentHandler     // /v1/agents
	journalHandler  *handler.JournalHandler   // /v1/journal
	snapshotHandler *handler.SnapshotHandler  // /v1/snapshots
	dashHandler     *handler.DashboardHandler // /api/v1/dashboard
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	agentService *service.AgentService,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	journalH *handler.JournalHandler,
	snapshotH *handler.SnapshotHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		agentService:    agentService,
		authHandler:     authH,
		agentHandler:    agentH,
		journalHandler:  journalH,
		snapshotHandler: snapshotH,
		dashHandler:     dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.agentService, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Флот: чтение для всех операторов, мутации только для floor.admin
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.With(auth.RequireScope(ScopeAdmin, s.logger)).Post("/", s.agentHandler.Register)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireScope(ScopeAdmin, s.logger))
					r.Post("/pause", s.agentHandler.Pause)   // Мгновенная остановка таска
					r.Post("/resume", s.agentHandler.Resume) // Единственный выход из PAUSED
					r.Post("/retire", s.agentHandler.Retire) // Вывод с площадки + архив
				})
			})
		})

		// Прием перформанс-окон от внешней аналитики
		r.Post("/v1/snapshots", s.snapshotHandler.Submit)

		// Лайфцикл-журнал (Observability)
		r.Get("/v1/journal", s.journalHandler.GetEvents)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

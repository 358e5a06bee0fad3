package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/config"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/handlers"
	"underneath-backend/pkg/mailer"
	"underneath-backend/pkg/metrics"
	customMiddleware "underneath-backend/pkg/middleware"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/telemetry"
	"underneath-backend/pkg/utils"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// Deps is everything the router needs. Optional fields fall back to no-ops.
type Deps struct {
	Config  *config.Config
	DB      database.DatabaseInterface
	Logger  zerolog.Logger
	Mailer  mailer.Mailer
	Events  bus.Publisher
	Metrics *metrics.Metrics
	// Checks are reported by /readyz next to the database
	Checks map[string]func() bool
}

// NewRouter builds the chi router with every API route mounted.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	if deps.Events == nil {
		deps.Events = bus.Nop{}
	}

	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, deps)

	// 设置路由
	setupRoutes(router, deps)

	if cfg.Debug {
		_ = chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			deps.Logger.Debug().Str("method", method).Str("route", route).Msg("route registered")
			return nil
		})
	}
	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, deps Deps) {
	cfg := deps.Config

	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(deps.Logger))
	router.Use(customMiddleware.Recovery(cfg))
	router.Use(telemetry.Middleware("underneath-api"))
	router.Use(deps.Metrics.Middleware)

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))
	router.Use(customMiddleware.RateLimitByIP(cfg.RateLimitPerMinute))

	// 超时中间件
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, deps Deps) {
	cfg, db := deps.Config, deps.DB
	jwt := utils.NewJWTService(cfg.JWTSecret)

	// 服务层
	users := services.NewUserService(db, jwt)
	invitations := services.NewInvitationManager(db, deps.Mailer, deps.Events, deps.Metrics, services.InvitationOptions{
		DefaultTTL: cfg.InvitationTTL(),
		AppBaseURL: cfg.AppBaseURL,
	})
	connections := services.NewConnectionManager(db, deps.Events, deps.Metrics)
	stages := services.NewStageTracker(db, deps.Metrics)
	entities := services.NewEntityService(db, deps.Metrics)
	points := services.NewPointsService(db, deps.Metrics)

	// 创建处理器
	healthHandler := handlers.NewHealthHandler(cfg, db)
	for name, check := range deps.Checks {
		healthHandler.Checks[name] = check
	}
	authHandler := handlers.NewAuthHandler(cfg, users)
	invitationsHandler := handlers.NewInvitationsHandler(cfg, invitations)
	connectionsHandler := handlers.NewConnectionsHandler(cfg, connections)
	stagesHandler := handlers.NewStagesHandler(cfg, stages)
	entitiesHandler := handlers.NewEntitiesHandler(cfg, entities)
	pointsHandler := handlers.NewPointsHandler(cfg, points)

	// 健康检查端点
	router.Get("/", healthHandler.Root)
	router.Get("/healthz", healthHandler.Live)
	router.Get("/readyz", healthHandler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// 数据库连接池状态端点（调试用）
	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.SharedStats())
		})
	}

	dom := customMiddleware.RequireRole(models.RoleDom)
	sub := customMiddleware.RequireRole(models.RoleSub)
	stageAdmin := customMiddleware.RequireRole(models.RoleDom, models.RoleAdmin)

	// API路由组
	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
		r.Use(customMiddleware.ContentTypeJSON)

		// 公开路由（不需要认证）
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.With(customMiddleware.AuthMiddleware(jwt)).Get("/me", authHandler.Me)
		})

		// 邀请码校验允许匿名访问，注册前即可检查
		r.Route("/invitations", func(r chi.Router) {
			r.With(customMiddleware.OptionalAuthMiddleware(jwt)).Post("/validate", invitationsHandler.Validate)

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(jwt))
				r.With(sub).Post("/accept", invitationsHandler.Accept)
				r.With(dom).Get("/", invitationsHandler.List)
				r.With(dom).Post("/", invitationsHandler.Create)
				r.With(dom).Delete("/{code}", invitationsHandler.Revoke)
			})
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(jwt))

			r.Route("/connections", func(r chi.Router) {
				r.Get("/my-connection", connectionsHandler.MyConnection)
				r.Get("/availability", connectionsHandler.Availability)
				r.Get("/history", connectionsHandler.History)
				r.Post("/terminate", connectionsHandler.Terminate)
			})

			r.Route("/stages", func(r chi.Router) {
				r.Get("/", stagesHandler.List)

				r.Group(func(r chi.Router) {
					r.Use(stageAdmin)
					r.Post("/", stagesHandler.Create)
					r.Put("/{id}", stagesHandler.Update)
					r.Delete("/{id}", stagesHandler.Delete)
					r.Patch("/{id}/toggle-active", stagesHandler.Toggle(models.FlagSubActive))
					r.Patch("/{id}/toggle-visible", stagesHandler.Toggle(models.FlagSubVisible))
					r.Patch("/{id}/toggle-locked", stagesHandler.Toggle(models.FlagSubLocked))
				})
			})

			r.Route("/entities", func(r chi.Router) {
				r.Get("/", entitiesHandler.List)
				r.With(dom).Post("/", entitiesHandler.Create)
				r.With(dom).Put("/{id}", entitiesHandler.Update)
				r.With(dom).Delete("/{id}", entitiesHandler.Delete)
				r.With(sub).Post("/{id}/complete", entitiesHandler.Complete)
			})

			r.Route("/points", func(r chi.Router) {
				r.With(dom).Post("/award", pointsHandler.Award)
				r.Get("/progress", pointsHandler.Progress)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}

// serverlessApp holds what survives between warm Vercel invocations.
type serverlessApp struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	events  bus.Publisher
	mailer  mailer.Mailer
	checks  map[string]func() bool

	mu     sync.Mutex
	db     database.DatabaseInterface
	router http.Handler
}

var (
	app     *serverlessApp
	appErr  error
	appOnce sync.Once
)

// Handler 是Vercel函数的入口点
// 配置只加载一次；数据库连接由连接池复用，连接重建时路由器随之重建
func Handler(w http.ResponseWriter, r *http.Request) {
	appOnce.Do(func() {
		app, appErr = loadServerless(context.Background())
	})
	if appErr != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+appErr.Error())
		return
	}

	router, err := app.current(r.Context())
	if err != nil {
		app.logger.Error().Err(err).Msg("database unavailable")
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE",
			"Database is not reachable", "")
		return
	}
	router.ServeHTTP(w, r)
}

func loadServerless(ctx context.Context) (*serverlessApp, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &serverlessApp{
		cfg:     cfg,
		logger:  log.Logger.With().Str("service", "underneath-api").Logger(),
		metrics: metrics.New(prometheus.NewRegistry()),
		events:  bus.Nop{},
		checks:  map[string]func() bool{},
	}

	// 函数实例没有关闭钩子，导出器随进程退出
	if _, err := telemetry.Init(ctx, "underneath-api", cfg.OTLPEndpoint); err != nil {
		a.logger.Warn().Err(err).Msg("tracing disabled")
	}
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			a.logger.Warn().Err(err).Msg("nats unavailable, events disabled")
		} else {
			a.events = b
			a.checks["nats"] = b.Healthy
		}
	}
	a.mailer = mailer.FromConfig(cfg, a.events, a.logger)
	return a, nil
}

// current returns a router bound to the pool's live store.
func (a *serverlessApp) current(ctx context.Context) (http.Handler, error) {
	ctx, cancel := context.WithTimeout(a.logger.WithContext(ctx), 20*time.Second)
	defer cancel()

	db, err := database.Shared(ctx, database.DatabaseConfig{
		Driver:      a.cfg.DatabaseDriver,
		PostgresDSN: a.cfg.PostgresDSN,
		SQLitePath:  a.cfg.SQLitePath,
		Migrate:     true,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.router == nil || a.db != db {
		a.db = db
		a.router = NewRouter(Deps{
			Config:  a.cfg,
			DB:      db,
			Logger:  a.logger,
			Mailer:  a.mailer,
			Events:  a.events,
			Metrics: a.metrics,
			Checks:  a.checks,
		})
	}
	return a.router, nil
}

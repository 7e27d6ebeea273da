// Package router assembles the admin API.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/hotline/admissions/internal/infrastructure/auth"
	"github.com/hotline/admissions/internal/infrastructure/config"
	"github.com/hotline/admissions/internal/infrastructure/logger"
	"github.com/hotline/admissions/internal/interfaces/http/handler"
	"github.com/hotline/admissions/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware that only runs for versioned API routes
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// ApplicationRoutes registers the admission endpoints
type ApplicationRoutes struct {
	Handler *handler.ApplicationHandler
	// Limiter throttles the endpoints that talk to the chat platform; nil disables it
	Limiter *middleware.RateLimiter
}

// RegisterRoutes implements RouteRegistrar
func (a ApplicationRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	var throttle gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if a.Limiter != nil {
		throttle = middleware.RateLimit(a.Limiter)
	}

	apps := rg.Group("/applications")
	apps.GET("", a.Handler.List)
	apps.POST("", throttle, a.Handler.Submit)
	apps.GET("/:id", a.Handler.Get)
	apps.POST("/:id/decision", throttle, a.Handler.Decide)
	apps.GET("/:id/votes", throttle, a.Handler.Votes)

	rg.POST("/reconcile", throttle, a.Handler.Reconcile)
	rg.GET("/reconcile/status", a.Handler.ReconcileStatus)
}

// SystemRoutes registers the system info endpoint
type SystemRoutes struct {
	Handler *handler.SystemHandler
}

// RegisterRoutes implements RouteRegistrar
func (s SystemRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", s.Handler.GetSystemInfo)
}

// Deps is everything NewEngine wires into the admin API
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	JWT         *auth.JWTService
	Meter       metric.Meter
	Application *handler.ApplicationHandler
	System      *handler.SystemHandler
}

// NewEngine builds the gin engine with the full middleware chain. /health is
// served without authentication; everything under /api/v1 except system info
// requires a staff token.
func NewEngine(deps Deps) (*gin.Engine, error) {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.HTTPMetrics(deps.Meter),
		middleware.BodyLimit(cfg.HTTP.MaxBodyBytes),
	)
	engine.GET("/health", deps.System.Health)

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
	}

	NewRouter(engine, WithAPIMiddleware(
		middleware.StaffAuth(middleware.StaffAuthConfig{
			JWTService: deps.JWT,
			SkipPaths:  []string{"/api/v1/system/info"},
			Logger:     log,
		}),
		middleware.SpanAttributes(),
	)).
		Register(SystemRoutes{Handler: deps.System}).
		Register(ApplicationRoutes{Handler: deps.Application, Limiter: limiter}).
		Setup()

	return engine, nil
}

package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saptiva-ai/copilotos/pkg/auth"
	"github.com/saptiva-ai/copilotos/pkg/chat"
	"github.com/saptiva-ai/copilotos/pkg/config"
	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/observability"
	"github.com/saptiva-ai/copilotos/pkg/prompt"
	"github.com/saptiva-ai/copilotos/pkg/services"
	"github.com/saptiva-ai/copilotos/pkg/version"
)

// Server owns the echo instance and the route table.
type Server struct {
	cfg         *config.Settings
	auth        *auth.Service
	chain       *chat.Chain
	chatSvc     *chat.Service
	history     *services.HistoryService
	dispatcher  *mcp.Dispatcher
	lazy        *mcp.LazyRegistry
	tasks       *mcp.TaskManager
	resultCache *mcp.ResultCache
	prompts     *prompt.Registry

	userLimiter *userRateLimiter
	promGatherer prometheus.Gatherer

	echo *echo.Echo
	http *http.Server
}

// Deps bundles the services the HTTP surface exposes.
type Deps struct {
	Auth        *auth.Service
	Chain       *chat.Chain
	ChatService *chat.Service
	History     *services.HistoryService
	Dispatcher  *mcp.Dispatcher
	Lazy        *mcp.LazyRegistry
	Tasks       *mcp.TaskManager
	ResultCache *mcp.ResultCache
	Prompts     *prompt.Registry
	HTTPMetrics *observability.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewServer(cfg *config.Settings, deps Deps) *Server {
	s := &Server{
		cfg:          cfg,
		auth:         deps.Auth,
		chain:        deps.Chain,
		chatSvc:      deps.ChatService,
		history:      deps.History,
		dispatcher:   deps.Dispatcher,
		lazy:         deps.Lazy,
		tasks:        deps.Tasks,
		resultCache:  deps.ResultCache,
		prompts:      deps.Prompts,
		userLimiter:  newUserRateLimiter(cfg.UserRateLimitPerHour, time.Hour),
		promGatherer: deps.Gatherer,
	}

	e := echo.New()
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(trustedHosts(cfg.AllowedHosts))
	e.Use(cors(cfg.CORSOrigins))
	e.Use(telemetry(deps.HTTPMetrics))

	s.registerRoutes(e)
	s.echo = e
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)

	api := e.Group("/api", noStore())

	// Auth endpoints are public except logout and me.
	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.registerHandler)
	authGroup.POST("/login", s.loginHandler)
	authGroup.POST("/refresh", s.refreshHandler)
	authGroup.POST("/forgot-password", s.forgotPasswordHandler)
	authGroup.POST("/reset-password", s.resetPasswordHandler)
	authGroup.GET("/me", s.meHandler, s.bearerAuth())
	authGroup.POST("/logout", s.logoutHandler, s.bearerAuth())

	// Everything else requires a bearer token and counts against the
	// per-user budget.
	protected := api.Group("", s.bearerAuth(), s.rateLimit())

	protected.POST("/chat", s.chatHandler)

	protected.GET("/history/:chat_id", s.historyHandler)
	protected.GET("/history/:chat_id/export", s.exportHandler)

	protected.GET("/sessions", s.listSessionsHandler)
	protected.PATCH("/sessions/:id", s.updateSessionHandler)
	protected.DELETE("/sessions/:id", s.deleteSessionHandler)
	protected.GET("/sessions/:id/canvas", s.getCanvasHandler)
	protected.PATCH("/sessions/:id/canvas", s.patchCanvasHandler)
	protected.GET("/sessions/:id/research", s.sessionResearchHandler)

	protected.GET("/models", s.modelsHandler)
	protected.GET("/features", s.featuresHandler)

	research := protected.Group("/research")
	research.GET("", s.researchGateHandler)
	research.POST("", s.researchGateHandler)
	research.GET("/*", s.researchGateHandler)
	research.POST("/*", s.researchGateHandler)

	mcpGroup := protected.Group("/mcp")
	mcpGroup.GET("/tools", s.mcpToolsHandler)
	mcpGroup.POST("/invoke", s.mcpInvokeHandler)
	mcpGroup.GET("/health", s.mcpHealthHandler)
	mcpGroup.GET("/discover", s.mcpDiscoverHandler)
	mcpGroup.GET("/schema/:tool", s.mcpSchemaHandler)

	mcpGroup.POST("/tasks", s.createTaskHandler)
	mcpGroup.GET("/tasks", s.listTasksHandler)
	mcpGroup.GET("/tasks/:id", s.getTaskHandler)
	mcpGroup.DELETE("/tasks/:id", s.cancelTaskHandler)

	mcpGroup.DELETE("/cache/tool/:tool/:doc", s.cacheInvalidateToolHandler)
	mcpGroup.DELETE("/cache/document/:doc", s.cacheInvalidateDocumentHandler)
	mcpGroup.DELETE("/cache/all", s.cacheInvalidateAllHandler)
	mcpGroup.GET("/cache/stats", s.cacheStatsHandler)
	mcpGroup.POST("/cache/warmup", s.cacheWarmupHandler)

	mcpGroup.GET("/lazy/discover", s.lazyDiscoverHandler)
	mcpGroup.GET("/lazy/tools/:name", s.lazyToolHandler)
	mcpGroup.POST("/lazy/invoke", s.lazyInvokeHandler)
	mcpGroup.GET("/lazy/stats", s.lazyStatsHandler)
	mcpGroup.POST("/lazy/tools/:name/unload", s.lazyUnloadHandler)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": version.AppName,
		"version": version.GitCommit,
	})
}

func (s *Server) metricsHandler(c *echo.Context) error {
	gatherer := s.promGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).
		ServeHTTP(c.Response(), c.Request())
	return nil
}

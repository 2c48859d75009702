// Package api операторский REST API агента: запуск и отмена навигации,
// состояние, кеш, метрики.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/voxel-agent/internal/agent"
	"github.com/annel0/voxel-agent/internal/auth"
	"github.com/annel0/voxel-agent/internal/cache"
	"github.com/annel0/voxel-agent/internal/chunkcache"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/middleware"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Navigator операции навигатора, доступные через API
type Navigator interface {
	Start(target vec.Vec3) (string, error)
	Cancel() bool
	Snapshot() agent.Snapshot
	Position(ctx context.Context) (vec.Vec3, error)
	CacheStats() (chunkcache.Stats, error)
	ClearCache() error
}

// Config зависимости REST сервера
type Config struct {
	Addr      string // ":8088"
	Navigator Navigator
	Issuer    *auth.TokenIssuer
	// Registry регистр Prometheus для HTTP-метрик и /metrics; nil - регистр по умолчанию
	Registry *prometheus.Registry
	// TerrainCache общий кеш ландшафта (опционально)
	TerrainCache cache.CacheRepo
	Logger       *logging.Logger
}

// GenericResponse общий формат ответа
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NavigateRequest цель навигации
type NavigateRequest struct {
	X *int32 `json:"x" binding:"required"`
	Y *int32 `json:"y" binding:"required"`
	Z *int32 `json:"z" binding:"required"`
}

// RestServer представляет REST API сервер
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	nav     Navigator
	terrain cache.CacheRepo
	process *ProcessMetrics
	logger  *logging.Logger
}

// NewRestServer создаёт сервер и настраивает маршруты
func NewRestServer(cfg Config) *RestServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("voxel-agent"))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	var (
		reg    prometheus.Registerer
		gather prometheus.Gatherer
	)
	if cfg.Registry != nil {
		reg, gather = cfg.Registry, cfg.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("agent_api", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gather)

	rs := &RestServer{
		router:  router,
		nav:     cfg.Navigator,
		terrain: cfg.TerrainCache,
		process: NewProcessMetrics(),
		logger:  cfg.Logger,
	}
	rs.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes(cfg.Issuer)
	return rs
}

func (rs *RestServer) setupRoutes(issuer *auth.TokenIssuer) {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.Use(middleware.BearerAuth(issuer))
	{
		api.GET("/navigation", rs.handleSnapshot)
		api.GET("/position", rs.handlePosition)
		api.GET("/cache", rs.handleCacheStats)
		api.GET("/status", rs.handleStatus)

		control := api.Group("")
		control.Use(middleware.RequireControl())
		{
			control.POST("/navigate", rs.handleNavigate)
			control.DELETE("/navigation", rs.handleCancel)
			control.DELETE("/cache", rs.handleClearCache)
		}
	}
}

// Handler http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (rs *RestServer) handleNavigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса: " + err.Error()})
		return
	}

	target := vec.New(*req.X, *req.Y, *req.Z)
	session, err := rs.nav.Start(target)
	if errors.Is(err, agent.ErrBusy) {
		c.JSON(http.StatusConflict, GenericResponse{Message: "Навигация уже выполняется"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: err.Error()})
		return
	}

	rs.logger.Info("оператор %s запустил навигацию %s к %v", operatorName(c), session, target)
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Навигация запущена",
		Data:    gin.H{"session_id": session, "target": target},
	})
}

func (rs *RestServer) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: rs.nav.Snapshot()})
}

func (rs *RestServer) handleCancel(c *gin.Context) {
	if !rs.nav.Cancel() {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Нет активной навигации"})
		return
	}
	rs.logger.Info("оператор %s отменил навигацию", operatorName(c))
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Навигация отменена"})
}

func (rs *RestServer) handlePosition(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	pos, err := rs.nav.Position(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, GenericResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: pos})
}

func (rs *RestServer) handleCacheStats(c *gin.Context) {
	data := gin.H{}
	if stats, err := rs.nav.CacheStats(); err == nil {
		data["session"] = stats
	}
	if rs.terrain != nil {
		data["terrain"] = rs.terrain.GetMetrics()
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: data})
}

func (rs *RestServer) handleClearCache(c *gin.Context) {
	if err := rs.nav.ClearCache(); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Кеш чанков очищен"})
}

func (rs *RestServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"process":    rs.process.Snapshot(),
			"navigation": rs.nav.Snapshot(),
		},
	})
}

// Start запускает REST сервер; блокируется до Shutdown
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API слушает %s", rs.server.Addr)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown graceful остановка
func (rs *RestServer) Shutdown(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}

func operatorName(c *gin.Context) string {
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims.Operator
		}
	}
	return "unknown"
}

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/api/middleware"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/config"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/domain/outbox"
	"github.com/ledgerlinelabs/ledgerline-cloud/internal/usecase/dispatch"
	"github.com/ledgerlinelabs/ledgerline-cloud/pkg/snowflake"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	engine     *gin.Engine
	server     *http.Server
	cfg        *config.Config
	dispatchUC *dispatch.Service
	repo       outbox.Repository
	node       *snowflake.Node
	logger     *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	dispatchUC *dispatch.Service,
	repo outbox.Repository,
	node *snowflake.Node,
	logger *zap.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:     r,
		cfg:        cfg,
		dispatchUC: dispatchUC,
		repo:       repo,
		node:       node,
		logger:     logger,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Outbox administration (protected by ADMIN_API_TOKEN). These are
	// windows into the gateway queries, not an alternative dispatch path.
	admin := r.engine.Group("/admin/outbox")
	admin.Use(r.adminAuth())
	{
		admin.POST("/events", r.EnqueueEvent)
		admin.GET("/events/pending", r.ListPendingEvents)
		admin.GET("/events/failed", r.ListFailedEvents)
		admin.GET("/events/stats", r.GetOutboxStats)
		admin.GET("/events/:id", r.GetEvent)
		admin.GET("/aggregates/:aggregateId/events", r.ListEventsByAggregate)
		admin.POST("/events/:id/retry", r.RetryEvent)
		admin.POST("/events/retry-all", r.RetryAllEvents)
		admin.DELETE("/events/processed", r.CleanupProcessedEvents)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

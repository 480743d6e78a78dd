// Package httpapi exposes the alert dashboard REST surface over gin.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertdesk/internal/app"
	"alertdesk/internal/config"
	"alertdesk/internal/metrics"
	"alertdesk/internal/store"
	"alertdesk/internal/sweep"
)

const authUserKey = "auth_user"

// Server wires managers and auth into one gin router.
// Params: managers, auth, sweep runner, sweep store, and logger.
// Returns: router factory for the app service.
type Server struct {
	auth      *Authenticator
	alerts    *app.AlertManager
	rules     *app.RuleManager
	dashboard *app.DashboardManager
	sweeps    store.SweepStore
	runner    *sweep.Runner
	ready     func() bool
	log       *slog.Logger
}

// NewServer creates the API server.
// Params: dependencies used by the handlers plus a readiness probe.
// Returns: initialized server.
func NewServer(
	auth *Authenticator,
	alerts *app.AlertManager,
	rules *app.RuleManager,
	dashboard *app.DashboardManager,
	sweeps store.SweepStore,
	runner *sweep.Runner,
	ready func() bool,
	log *slog.Logger,
) *Server {
	return &Server{
		auth:      auth,
		alerts:    alerts,
		rules:     rules,
		dashboard: dashboard,
		sweeps:    sweeps,
		runner:    runner,
		ready:     ready,
		log:       log.With("component", "http"),
	}
}

// Router builds the gin engine with all routes registered.
// Params: none.
// Returns: engine ready for http.Server use.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.metricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if s.ready != nil && !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/auth/login", s.handleLogin)

	api := router.Group("/api", s.authMiddleware())
	{
		api.GET("/alerts", s.handleListAlerts)
		api.POST("/alerts", s.requireRole(config.RoleOperator), s.handleCreateAlert)
		api.GET("/alerts/:id", s.handleGetAlert)
		api.POST("/alerts/:id/resolve", s.requireRole(config.RoleOperator), s.handleResolveAlert)
		api.PATCH("/alerts/:id/status", s.requireRole(config.RoleOperator), s.handleTransitionAlert)

		api.GET("/rules", s.handleListRules)
		api.POST("/rules", s.requireRole(config.RoleAdmin), s.handleCreateRule)
		api.GET("/rules/:id", s.handleGetRule)
		api.PUT("/rules/:id", s.requireRole(config.RoleAdmin), s.handleUpdateRule)
		api.DELETE("/rules/:id", s.requireRole(config.RoleAdmin), s.handleDeleteRule)

		api.GET("/dashboard/summary", s.handleDashboardSummary)
		api.GET("/dashboard/top-entities", s.handleDashboardTopEntities)
		api.GET("/dashboard/recent", s.handleDashboardRecent)
		api.GET("/dashboard/trend", s.handleDashboardTrend)

		api.GET("/sweeps", s.handleListSweeps)
		api.POST("/sweeps/run", s.requireRole(config.RoleAdmin), s.handleRunSweep)
	}

	return router
}

// authMiddleware verifies the bearer token on API routes.
// Params: none.
// Returns: middleware storing the authenticated user in the context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		user, err := s.auth.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set(authUserKey, user)
		c.Next()
	}
}

// requireRole enforces a minimum role on one route.
// Params: minimum required role.
// Returns: middleware rejecting lower-ranked users with 403.
func (s *Server) requireRole(min string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).HasRole(min) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentUser reads the authenticated user from the request context.
// Params: gin context populated by authMiddleware.
// Returns: user or zero value on unauthenticated routes.
func currentUser(c *gin.Context) User {
	if value, ok := c.Get(authUserKey); ok {
		if user, ok := value.(User); ok {
			return user
		}
	}
	return User{}
}

// metricsMiddleware records request counts and latency.
// Params: none.
// Returns: middleware labeling by method, route template, and status.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" || endpoint == "/metrics" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint, status).
			Observe(time.Since(start).Seconds())
	}
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"alertdesk/internal/app"
	"alertdesk/internal/domain"
	"alertdesk/internal/engine"
	"alertdesk/internal/store"
	"alertdesk/internal/sweep"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// resolveRequest is the POST /api/alerts/:id/resolve body.
type resolveRequest struct {
	Notes string `json:"notes"`
}

// transitionRequest is the PATCH /api/alerts/:id/status body.
type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// listResponse wraps one paginated alert listing.
type listResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Total  int            `json:"total"`
	Skip   int            `json:"skip"`
	Limit  int            `json:"limit"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	token, expiresIn, role, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   expiresIn,
		"role":         role,
	})
}

func (s *Server) handleCreateAlert(c *gin.Context) {
	var input app.CreateAlertInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alert, err := s.alerts.CreateAlert(c.Request.Context(), input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (s *Server) handleGetAlert(c *gin.Context) {
	alert, err := s.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	filter, page, err := parseAlertQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alerts, total, err := s.alerts.ListAlerts(c.Request.Context(), filter, page)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{
		Alerts: alerts,
		Total:  total,
		Skip:   page.Skip,
		Limit:  page.Limit,
	})
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	var req resolveRequest
	// Notes are optional; an absent body resolves without notes.
	_ = c.ShouldBindJSON(&req)
	alert, err := s.alerts.Resolve(c.Request.Context(), c.Param("id"), req.Notes, currentUser(c).Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleTransitionAlert(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alert, err := s.alerts.TransitionStatus(c.Request.Context(), c.Param("id"), status, req.Reason, currentUser(c).Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.rules.CreateRule(c.Request.Context(), rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetRule(c *gin.Context) {
	rule, err := s.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.rules.ListRules(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleUpdateRule(c *gin.Context) {
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.RuleID = c.Param("id")
	updated, err := s.rules.UpdateRule(c.Request.Context(), rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	if err := s.rules.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDashboardSummary(c *gin.Context) {
	summary, err := s.dashboard.Summary(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDashboardTopEntities(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entities, err := s.dashboard.TopEntities(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (s *Server) handleDashboardRecent(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alerts, err := s.dashboard.Recent(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleDashboardTrend(c *gin.Context) {
	days, err := intQuery(c, "days", 7)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	points, err := s.dashboard.Trend(c.Request.Context(), days)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trend": points})
}

func (s *Server) handleListSweeps(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.sweeps.ListSweeps(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweeps": records})
}

func (s *Server) handleRunSweep(c *gin.Context) {
	record, err := s.runner.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, sweep.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// writeError maps internal errors to HTTP responses.
// Params: gin context and error from a manager call.
// Returns: response written; unexpected errors become 500 and are logged.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, app.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// parseAlertQuery decodes listing filters and pagination.
// Params: gin context carrying query values.
// Returns: store filter and bounded page, or a validation error.
func parseAlertQuery(c *gin.Context) (store.AlertFilter, store.Page, error) {
	var filter store.AlertFilter

	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return filter, store.Page{}, err
		}
		filter.Status = status
	}
	if raw := c.Query("source_type"); raw != "" {
		source, err := domain.ParseSourceType(raw)
		if err != nil {
			return filter, store.Page{}, err
		}
		filter.SourceType = source
	}
	if raw := c.Query("severity"); raw != "" {
		severity, err := domain.ParseSeverity(raw)
		if err != nil {
			return filter, store.Page{}, err
		}
		filter.Severity = severity
	}
	filter.EntityKey = c.Query("entity_key")

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, store.Page{}, err
		}
		filter.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, store.Page{}, err
		}
		filter.To = to
	}

	skip, err := intQuery(c, "skip", 0)
	if err != nil {
		return filter, store.Page{}, err
	}
	limit, err := intQuery(c, "limit", defaultPageLimit)
	if err != nil {
		return filter, store.Page{}, err
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return filter, store.Page{Skip: skip, Limit: limit}, nil
}

// intQuery parses one non-negative integer query value.
// Params: query key and default.
// Returns: parsed value or error for negative/malformed input.
func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/diff"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/drafts"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	principalContextKey      = "strata_principal"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingDraftsService   = errors.New("drafts service dependency required")
	errMissingDiffEngine      = errors.New("diff engine dependency required")
	errMissingSessions        = errors.New("session validator dependency required")
	errMissingEventStream     = errors.New("event dispatcher dependency required")
	errMissingMetricsGatherer = errors.New("metrics gatherer dependency required")
)

// SessionValidator authenticates a request from its session cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Drafts            *drafts.Service
	Diff              *diff.Engine
	Sessions          SessionValidator
	Events            *events.Dispatcher
	Gatherer          prometheus.Gatherer
	RootBranch        string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Drafts == nil {
		return nil, errMissingDraftsService
	}
	if deps.Diff == nil {
		return nil, errMissingDiffEngine
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Events == nil {
		return nil, errMissingEventStream
	}
	if deps.Gatherer == nil {
		return nil, errMissingMetricsGatherer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		drafts:     deps.Drafts,
		diff:       deps.Diff,
		sessions:   deps.Sessions,
		events:     deps.Events,
		rootBranch: deps.RootBranch,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	protected.POST("/branches", handler.handleCreateBranch)
	protected.GET("/branches/:branch", handler.handleGetBranch)
	protected.GET("/branches/:branch/events", handler.handleEventStream)

	revision := protected.Group("/revisions/:revision")
	revision.GET("", handler.handleGetRevision)
	revision.POST("/commit", handler.handleCommit)
	revision.POST("/revert", handler.handleRevert)
	revision.GET("/migrations", handler.handleListMigrations)

	revision.GET("/tables", handler.handleListTables)
	revision.POST("/tables", handler.handleCreateTable)
	revision.GET("/tables/:table", handler.handleGetTable)
	revision.PATCH("/tables/:table", handler.handleUpdateTable)
	revision.DELETE("/tables/:table", handler.handleRemoveTable)
	revision.POST("/tables/:table/rename", handler.handleRenameTable)
	revision.GET("/tables/:table/views", handler.handleGetViews)
	revision.PUT("/tables/:table/views", handler.handleUpdateViews)
	revision.POST("/tables/:table/validate", handler.handleValidateData)

	revision.GET("/tables/:table/rows", handler.handleListRows)
	revision.POST("/tables/:table/rows", handler.handleCreateRow)
	revision.POST("/tables/:table/rows/remove", handler.handleRemoveRows)
	revision.GET("/tables/:table/rows/:row", handler.handleGetRow)
	revision.PUT("/tables/:table/rows/:row", handler.handleUpdateRow)
	revision.DELETE("/tables/:table/rows/:row", handler.handleRemoveRow)
	revision.POST("/tables/:table/rows/:row/rename", handler.handleRenameRow)

	revision.GET("/changes/tables", handler.handleTableChanges)
	revision.GET("/changes/rows", handler.handleRowChanges)
	revision.GET("/changes/tables/:table/views", handler.handleViewsChanges)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	drafts     *drafts.Service
	diff       *diff.Engine
	sessions   SessionValidator
	events     *events.Dispatcher
	rootBranch string
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, claims.Principal())
	c.Next()
}

// Package api exposes the HTTP endpoints around the sync pipeline.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/auth"
	"github.com/nhle/crm-mailsync/internal/events"
	"github.com/nhle/crm-mailsync/internal/gateway"
	"github.com/nhle/crm-mailsync/internal/logging"
	"github.com/nhle/crm-mailsync/internal/model"
	"github.com/nhle/crm-mailsync/internal/store"
)

// Syncer runs one sync for a target.
type Syncer interface {
	RunSync(ctx context.Context, targetID string) (*model.SyncRun, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Store    store.Store
	Syncer   Syncer
	Bus      events.Bus
	Gateway  *gateway.Gateway
	Verifier *auth.Verifier
	CSRF     *auth.CSRF
	Logger   *zap.Logger
}

// Handler holds the HTTP handlers.
type Handler struct {
	store  store.Store
	syncer Syncer
	bus    events.Bus
	csrf   *auth.CSRF
	logger *zap.Logger

	// background tracks syncs triggered without waiting.
	background sync.WaitGroup
}

// NewRouter builds the gin engine with all routes. The returned Handler
// must be waited on at shutdown for background syncs.
func NewRouter(d Deps) (*gin.Engine, *Handler) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		store:  d.Store,
		syncer: d.Syncer,
		bus:    d.Bus,
		csrf:   d.CSRF,
		logger: logger.Named("api"),
	}

	r := gin.New()
	r.Use(logging.Gin(logger), logging.Recovery(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})

	api := r.Group("/api")
	{
		// EventSource cannot set headers, so the stream accepts ?token=.
		if d.Gateway != nil {
			api.GET("/events", auth.Middleware(d.Verifier, true), d.Gateway.Handler())
		}

		authed := api.Group("")
		authed.Use(auth.Middleware(d.Verifier, false))
		{
			authed.GET("/csrf", h.CSRFToken)
			authed.GET("/targets", h.ListTargets)
			authed.GET("/targets/:id/runs", h.ListRuns)
			authed.GET("/messages", h.ListMessages)
		}

		mutating := api.Group("")
		mutating.Use(auth.Middleware(d.Verifier, false), auth.RequireCSRF(d.CSRF))
		{
			mutating.POST("/targets/:id/sync", h.TriggerSync)
			mutating.POST("/messages/:id/read", h.MarkRead)
			mutating.POST("/messages/:id/important", h.ToggleImportant)
			mutating.DELETE("/rules/:id", h.DeleteRule)
			mutating.POST("/notifications", h.Notify)
		}
	}

	return r, h
}

// Wait blocks until background syncs have finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/auth"
	"github.com/nhle/crm-mailsync/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CSRFToken returns the anti-forgery token for the caller.
func (h *Handler) CSRFToken(c *gin.Context) {
	id := caller(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "csrf_token": h.csrf.Token(id.UserID)})
}

// ListTargets returns the caller's sync targets.
func (h *Handler) ListTargets(c *gin.Context) {
	targets, err := h.store.ListTargets(c.Request.Context(), caller(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "targets": nonNil(targets)})
}

// TriggerSync runs a sync for a target the caller owns and responds with
// the finished run. A failed run answers 502 with the run's error. With
// ?async=true it answers 202 at once and the outcome is read from the
// target's runs.
func (h *Handler) TriggerSync(c *gin.Context) {
	target, ok := h.ownedTarget(c)
	if !ok {
		return
	}
	if !target.Active {
		h.fail(c, model.ErrInactiveTarget)
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); !async {
		run, err := h.syncer.RunSync(c.Request.Context(), target.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if run.Status == model.RunFailed {
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": run.Error, "run": run})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "run": run})
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), target.ID, 1)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(runs) > 0 && runs[0].Open() {
		h.fail(c, model.ErrAlreadyRunning)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if _, err := h.syncer.RunSync(ctx, target.ID); err != nil && !errors.Is(err, model.ErrAlreadyRunning) {
			h.logger.Error("triggered sync", zap.String("target_id", target.ID), zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"status":  "started",
		"runs":    "/api/targets/" + target.ID + "/runs",
		"message": "sync started; the outcome is recorded on the target's runs",
	})
}

// ListRuns returns the most recent runs of a target the caller owns.
func (h *Handler) ListRuns(c *gin.Context) {
	target, ok := h.ownedTarget(c)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(c.Request.Context(), target.ID, limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "runs": nonNil(runs)})
}

// ListMessages returns the caller's recent messages.
func (h *Handler) ListMessages(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread"))
	msgs, err := h.store.ListMessages(c.Request.Context(), model.MessageFilter{
		UserID:   caller(c).UserID,
		TargetID: c.Query("target_id"),
		Unread:   unread,
		Limit:    limitParam(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": nonNil(msgs)})
}

// MarkRead marks a message read and notifies the owner's sessions.
func (h *Handler) MarkRead(c *gin.Context) {
	id := caller(c)
	msgID := c.Param("id")
	if err := h.store.MarkMessageRead(c.Request.Context(), id.UserID, msgID); err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c.Request.Context(), model.NewMarkedRead(id.UserID, msgID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ToggleImportant flips the important flag and notifies the owner's
// sessions.
func (h *Handler) ToggleImportant(c *gin.Context) {
	id := caller(c)
	msgID := c.Param("id")
	important, err := h.store.ToggleMessageImportant(c.Request.Context(), id.UserID, msgID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c.Request.Context(), model.NewToggledImportant(id.UserID, msgID, important))
	c.JSON(http.StatusOK, gin.H{"success": true, "is_important": important})
}

// DeleteRule removes one of the caller's processing rules.
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.store.DeleteRule(c.Request.Context(), caller(c).UserID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type notifyRequest struct {
	Title   string `json:"title"`
	Message string `json:"message" binding:"required"`
	Level   string `json:"level"`
}

// Notify raises a system notification for the caller.
func (h *Handler) Notify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "message is required"})
		return
	}

	level := model.Level(strings.ToLower(req.Level))
	if level == "" {
		level = model.LevelInfo
	}
	if !level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "level must be info, success or error"})
		return
	}
	if req.Title == "" {
		req.Title = "Notification"
	}

	h.publish(c.Request.Context(), model.NewSystemNotification(caller(c).UserID, level, req.Title, req.Message))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ownedTarget loads the :id target and writes a 404 unless the caller
// owns it.
func (h *Handler) ownedTarget(c *gin.Context) (*model.SyncTarget, bool) {
	target, err := h.store.GetTarget(c.Request.Context(), c.Param("id"))
	if err == nil && target.UserID != caller(c).UserID {
		err = model.ErrNotFound
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return target, true
}

func (h *Handler) publish(ctx context.Context, event model.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("publishing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// fail maps err onto a status code and writes the error response.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, model.ErrAlreadyRunning):
		status, msg = http.StatusConflict, model.ErrAlreadyRunning.Error()
	case errors.Is(err, model.ErrInactiveTarget):
		status, msg = http.StatusConflict, model.ErrInactiveTarget.Error()
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func caller(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c)
	return id
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Package gateway streams domain events to connected clients over
// Server-Sent Events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/auth"
	"github.com/nhle/crm-mailsync/internal/events"
	"github.com/nhle/crm-mailsync/internal/model"
)

// Defaults for Options.
const (
	DefaultHeartbeat = 25 * time.Second
	DefaultRetry     = 120 * time.Second
)

// Reasons a connection closes.
var (
	ErrShutdown    = errors.New("gateway shutting down")
	ErrEvicted     = errors.New("subscription destroyed by bus")
	ErrNoStreaming = errors.New("response writer cannot stream")
)

// Options tune client connections.
type Options struct {
	QueueSize int
	Overflow  events.Overflow

	// Heartbeat is the interval between keep-alive comments.
	Heartbeat time.Duration

	// Retry is the reconnection delay advertised in the handshake.
	Retry time.Duration
}

// Gateway accepts client streams and forwards each user's events to all of
// that user's connections.
type Gateway struct {
	bus    events.Bus
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	shutdown chan struct{}
	stopped  bool
}

// New creates a Gateway reading from bus.
func New(bus events.Bus, opts Options, logger *zap.Logger) *Gateway {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Retry <= 0 {
		opts.Retry = DefaultRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		bus:      bus,
		opts:     opts,
		logger:   logger.Named("gateway"),
		conns:    make(map[*Conn]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Handler serves GET /api/events. It expects auth.Middleware to have
// authenticated the caller.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		err := g.Serve(c.Request.Context(), c.Writer, id)
		if err == nil || c.Writer.Written() {
			return
		}
		switch {
		case errors.Is(err, ErrShutdown):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, ErrNoStreaming):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
	}
}

// Serve runs one connection until the client goes away, a write fails,
// the bus evicts the subscription, or the gateway shuts down. The
// subscription is destroyed before Serve returns.
func (g *Gateway) Serve(ctx context.Context, w http.ResponseWriter, id auth.Identity) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrNoStreaming
	}

	conn := &Conn{id: uuid.NewString(), userID: id.UserID, state: StateConnecting}
	if !g.register(conn) {
		return ErrShutdown
	}
	log := g.logger.With(zap.String("conn_id", conn.id), zap.String("user_id", conn.userID))

	err := g.stream(ctx, w, flusher, conn, id)
	g.closeConn(conn)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Debug("connection closed")
	default:
		log.Info("connection closed", zap.Error(err))
	}
	return err
}

func (g *Gateway) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conn *Conn, id auth.Identity) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := g.bus.Subscribe(conn.userID, events.SubscribeOptions{
		QueueSize: g.opts.QueueSize,
		Overflow:  g.opts.Overflow,
	})
	if !conn.open(sub) {
		g.bus.Unsubscribe(sub)
		return ErrShutdown
	}

	hello := model.NewConnectionEstablished(conn.userID, id.DisplayName(), g.opts.Retry)
	if err := writeEvent(w, hello, uint(g.opts.Retry.Milliseconds())); err != nil {
		return err
	}
	flusher.Flush()

	heartbeat := time.NewTicker(g.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-g.shutdown:
			return ErrShutdown

		case event, ok := <-sub.Events():
			if !ok {
				return ErrEvicted
			}
			if err := writeEvent(w, event, 0); err != nil {
				return err
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return fmt.Errorf("writing heartbeat: %w", err)
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event model.Event, retry uint) error {
	err := sse.Encode(w, sse.Event{
		Event: string(event.Type),
		Retry: retry,
		Data:  event.Wire(),
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", event.Type, err)
	}
	return nil
}

func (g *Gateway) register(conn *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.conns[conn] = struct{}{}
	return true
}

// closeConn destroys the connection's subscription synchronously.
func (g *Gateway) closeConn(conn *Conn) {
	if sub, ok := conn.close(); ok && sub != nil {
		g.bus.Unsubscribe(sub)
	}

	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

// Count returns the number of registered connections for userID, or for
// all users when userID is empty.
func (g *Gateway) Count(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if userID == "" {
		return len(g.conns)
	}
	n := 0
	for c := range g.conns {
		if c.userID == userID {
			n++
		}
	}
	return n
}

// Shutdown closes every connection and refuses new ones.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	close(g.shutdown)
}

package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/social"
	"go.uber.org/zap"
)

const defaultKeepalive = 30 * time.Second

// Handler streams relationship notifications to the authenticated user.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	sec       config.SecurityConfig
	users     mw.UserResolver
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, users mw.UserResolver, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, users: users, logger: logger, keepalive: defaultKeepalive}
}

// ServeEvents handles GET /api/social/events?token=<jwt>.
// EventSource cannot set headers, so the token travels in the query string.
func (h *Handler) ServeEvents(c *gin.Context) {
	u, err := mw.Authenticate(c.Request.Context(), c.Query("token"), h.sec, h.c, h.users)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, mw.ErrAccountDisabled) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, social.ChannelFor(u.ID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: relationship\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

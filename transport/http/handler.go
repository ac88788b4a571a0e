// Package httptransport exposes the webhook coordinator over HTTP with gin.
package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

const (
	PathWebhook = "/webhook"
	PathStats   = "/webhook/stats"
	PathHealth  = "/health"

	defaultMaxBodyBytes = 1 << 20
)

// Coordinator is the part of webhooks.Coordinator the HTTP layer drives.
type Coordinator interface {
	Handle(ctx context.Context, req core.InboundRequest) (webhooks.Outcome, error)
	Stats(ctx context.Context) (webhooks.Stats, error)
}

type Handler struct {
	coordinator  Coordinator
	maxBodyBytes int64
	observer     core.Observer
	now          func() time.Time
}

type HandlerOption func(*Handler)

func WithLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		h.observer.Logger = logger
	}
}

// WithMaxBodyBytes caps how much of the body is read. One extra byte is read
// so the security gate can tell an oversized payload from one at the limit.
func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(coordinator Coordinator, opts ...HandlerOption) (*Handler, error) {
	if coordinator == nil {
		return nil, errors.New("httptransport: coordinator is required")
	}
	handler := &Handler{
		coordinator:  coordinator,
		maxBodyBytes: defaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	handler.observer = core.NewObserver(handler.observer.Logger, nil)
	return handler, nil
}

// Register mounts the webhook routes. Every method reaches the webhook path so
// the gate can reject non-POST deliveries with a security error.
func (h *Handler) Register(router gin.IRouter) {
	router.GET(PathStats, h.stats)
	router.GET(PathHealth, h.health)
	router.Any(PathWebhook, h.webhook)
}

func (h *Handler) webhook(c *gin.Context) {
	req, err := h.inbound(c)
	if err != nil {
		h.observer.Warn(c.Request.Context(), "webhook body could not be read", map[string]any{
			"ip":    c.ClientIP(),
			"error": err.Error(),
		})
		status, body := webhooks.NewErrorResponse(
			core.NewValidationError("request body could not be read"),
			req.RequestID,
		)
		c.JSON(status, body)
		return
	}

	outcome, err := h.coordinator.Handle(c.Request.Context(), req)
	c.Header(webhooks.HeaderRequestID, outcome.RequestID)
	if err != nil {
		status, body := webhooks.NewErrorResponse(err, outcome.RequestID)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, webhooks.NewResponse(outcome))
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.coordinator.Stats(c.Request.Context())
	if err != nil {
		h.observer.Error(c.Request.Context(), "webhook stats failed", map[string]any{"error": err.Error()})
		status, body := webhooks.NewErrorResponse(core.NewInternalError(err, "stats unavailable", nil), "")
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// inbound builds the transport view of the request. BodySize reports what was
// actually read, capped at maxBodyBytes+1.
func (h *Handler) inbound(c *gin.Context) (core.InboundRequest, error) {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		headers[name] = strings.Join(values, ",")
	}
	req := core.InboundRequest{
		TransportMeta: core.TransportMeta{
			Method:        c.Request.Method,
			ContentType:   c.GetHeader("Content-Type"),
			ContentLength: c.Request.ContentLength,
			RemoteIP:      c.ClientIP(),
			UserAgent:     c.Request.UserAgent(),
			RequestID:     strings.TrimSpace(c.GetHeader(webhooks.HeaderRequestID)),
			Headers:       headers,
		},
		ReceivedAt: h.now().UTC(),
	}
	if c.Request.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		return req, err
	}
	req.Body = body
	req.BodySize = int64(len(body))
	return req, nil
}

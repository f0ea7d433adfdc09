package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-cap-alerts/internal/blobstore"
	"github.com/mr1hm/go-cap-alerts/internal/broadcast"
	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// BlobReader serves stored resource content.
type BlobReader interface {
	Get(uriOrDigest string) ([]byte, string, error)
}

// LimitInfo describes the outbound send limit.
type LimitInfo interface {
	Ceiling() int
	Window() time.Duration
}

// SenderStates reports circuit breaker state per channel.
type SenderStates interface {
	States() map[models.Channel]string
}

type Deps struct {
	Alerts    repository.AlertRepository
	Outbox    repository.OutboxRepository
	Recorder  *msglog.Recorder
	Assembler *cap.Assembler
	Resolver  *recipient.Resolver
	Fanout    *dispatch.Fanout
	Events    *broadcast.Broadcaster
	Blobs     BlobReader
	Limiter   LimitInfo
	Senders   SenderStates
}

type Handler struct {
	alerts    repository.AlertRepository
	outbox    repository.OutboxRepository
	recorder  *msglog.Recorder
	assembler *cap.Assembler
	resolver  *recipient.Resolver
	fanout    *dispatch.Fanout
	events    *broadcast.Broadcaster
	blobs     BlobReader
	limiter   LimitInfo
	senders   SenderStates
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		alerts:    d.Alerts,
		outbox:    d.Outbox,
		recorder:  d.Recorder,
		assembler: d.Assembler,
		resolver:  d.Resolver,
		fanout:    d.Fanout,
		events:    d.Events,
		blobs:     d.Blobs,
		limiter:   d.Limiter,
		senders:   d.Senders,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/alerts", h.listAlerts)
	api.POST("/alerts", h.createAlert)
	api.GET("/alerts/:id", h.getAlert)
	api.POST("/alerts/:id/derive", h.deriveAlert)

	api.GET("/messages", h.listMessages)
	api.POST("/messages", h.createMessage)
	api.GET("/messages/:id", h.getMessage)
	api.POST("/messages/:id/verify", h.verifyMessage)
	api.POST("/messages/:id/actioned", h.actionMessage)
	api.POST("/messages/:id/reply", h.replyMessage)
	api.POST("/messages/:id/dispatch", h.dispatchMessage)
	api.GET("/messages/:id/outbox", h.listOutbox)

	api.POST("/outbox/retry", h.retryOutbox)
	api.POST("/outbox/:id/draft", h.draftOutbox)

	api.GET("/stream", h.stream)
	api.GET("/blobs/:digest", h.getBlob)
}

// health stays 200 while any breaker is open; sends to that channel are
// deferred, not lost.
func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.limiter != nil {
		resp["rateLimit"] = gin.H{
			"ceiling": h.limiter.Ceiling(),
			"window":  h.limiter.Window().String(),
		}
	}
	if h.senders != nil {
		states := h.senders.States()
		for _, state := range states {
			if state != "closed" {
				resp["status"] = "degraded"
			}
		}
		resp["senders"] = states
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getBlob(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob storage disabled"})
		return
	}
	content, mimeType, err := h.blobs.Get(c.Param("digest"))
	if errors.Is(err, blobstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read blob"})
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Data(http.StatusOK, mimeType, content)
}

// listFilter reads the paging and time query parameters shared by list
// endpoints.
func listFilter(c *gin.Context) repository.Filter {
	filter := repository.Filter{
		Limit: defaultLimit,
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxLimit {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filter.Since = &t
		} else if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}
	return filter
}

// notFoundOr writes 404 for repository.ErrNotFound and 500 otherwise.
func notFoundOr(c *gin.Context, err error, what string) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load " + what})
}

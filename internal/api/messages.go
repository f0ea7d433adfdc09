package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
)

type messageRequest struct {
	AlertID           string `json:"alertId"`
	SenderDisplayName string `json:"senderDisplayName"`
	FromAddress       string `json:"fromAddress"`
	RecipientRaw      string `json:"recipientRaw"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	Priority          int    `json:"priority" binding:"omitempty,min=1,max=3"`
	Actionable        bool   `json:"actionable"`
}

type messageResponse struct {
	Message *models.MessageLog `json:"message"`
	Display string             `json:"display"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type replyRequest struct {
	Reply string `json:"reply" binding:"required"`
}

type dispatchRequest struct {
	Targets []string `json:"targets" binding:"required,min=1"`
	Channel string   `json:"channel"`
}

type unresolvedTarget struct {
	Target  string         `json:"target"`
	Channel models.Channel `json:"channel,omitempty"`
	Reason  string         `json:"reason"`
}

type dispatchResponse struct {
	Report     *dispatch.Report   `json:"report"`
	Unresolved []unresolvedTarget `json:"unresolved,omitempty"`
}

type retryRequest struct {
	EntryIDs []string `json:"entryIds" binding:"required,min=1"`
}

func (h *Handler) listMessages(c *gin.Context) {
	filter := listFilter(c)
	if d := c.Query("direction"); d != "" {
		dir := models.Direction(d)
		filter.Direction = &dir
	}
	msgs, err := h.recorder.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageResponse{Message: &msgs[i], Display: msglog.Display(&msgs[i])})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.recorder.Record(c.Request.Context(), models.DirectionOutbound, msglog.Content{
		AlertID:           req.AlertID,
		SenderDisplayName: req.SenderDisplayName,
		FromAddress:       req.FromAddress,
		RecipientRaw:      req.RecipientRaw,
		Subject:           req.Subject,
		Body:              req.Body,
		Priority:          models.Priority(req.Priority),
		Actionable:        req.Actionable,
	})
	if errors.Is(err, msglog.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to record message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record message"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) getMessage(c *gin.Context) {
	m, err := h.recorder.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFoundOr(c, err, "message")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: m, Display: msglog.Display(m)})
}

func (h *Handler) verifyMessage(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.updateMessage(c, h.recorder.MarkVerified(c.Request.Context(), c.Param("id"), req.Comment))
}

func (h *Handler) actionMessage(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.updateMessage(c, h.recorder.MarkActioned(c.Request.Context(), c.Param("id"), req.Comment))
}

func (h *Handler) replyMessage(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.updateMessage(c, h.recorder.SetReply(c.Request.Context(), c.Param("id"), req.Reply))
}

func (h *Handler) updateMessage(c *gin.Context, err error) {
	if err != nil {
		notFoundOr(c, err, "message")
		return
	}
	h.getMessage(c)
}

// dispatchMessage resolves the requested targets and fans the message out.
// Targets that cannot be resolved are reported alongside the outbox counts
// and do not fail the request unless nothing resolved.
func (h *Handler) dispatchMessage(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var channel models.Channel
	if req.Channel != "" {
		ch, err := models.ParseChannel(req.Channel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		channel = ch
	}
	targets := make([]recipient.Target, 0, len(req.Targets))
	for _, s := range req.Targets {
		t, err := recipient.ParseTarget(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "target": s})
			return
		}
		targets = append(targets, t)
	}

	ctx := c.Request.Context()
	deliveries, errs := h.resolver.ResolveAll(ctx, targets, channel)
	unresolved := make([]unresolvedTarget, 0, len(errs))
	for _, err := range errs {
		var re *recipient.ResolutionError
		if errors.As(err, &re) {
			unresolved = append(unresolved, unresolvedTarget{Target: re.Target.String(), Channel: re.Channel, Reason: re.Error()})
			continue
		}
		unresolved = append(unresolved, unresolvedTarget{Reason: err.Error()})
	}
	if len(deliveries) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "no target resolved to a deliverable address",
			"unresolved": unresolved,
		})
		return
	}

	report, err := h.fanout.Dispatch(ctx, c.Param("id"), deliveries)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		slog.Error("dispatch failed", "message_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed", "report": report})
		return
	}
	c.JSON(http.StatusOK, dispatchResponse{Report: report, Unresolved: unresolved})
}

func (h *Handler) listOutbox(c *gin.Context) {
	filter := listFilter(c)
	filter.MessageID = c.Param("id")
	filter.Limit = 0
	if s := c.Query("status"); s != "" {
		status := models.OutboxStatus(s)
		filter.Status = &status
	}
	entries, err := h.outbox.ListOutbox(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch outbox"})
		return
	}
	if entries == nil {
		entries = []models.OutboxEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) draftOutbox(c *gin.Context) {
	err := h.fanout.SetDraft(c.Request.Context(), c.Param("id"))
	if errors.Is(err, dispatch.ErrNotUnsent) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		notFoundOr(c, err, "outbox entry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": models.StatusDraft})
}

func (h *Handler) retryOutbox(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.fanout.Retry(c.Request.Context(), req.EntryIDs)
	if err != nil {
		notFoundOr(c, err, "outbox entry")
		return
	}
	c.JSON(http.StatusOK, report)
}

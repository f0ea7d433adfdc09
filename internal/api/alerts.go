package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/metrics"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
)

const capContentType = "application/cap+xml"

type alertSummary struct {
	ID         string           `json:"id"`
	Identifier string           `json:"identifier"`
	Sender     string           `json:"sender"`
	Sent       time.Time        `json:"sent"`
	Status     cap.Status       `json:"status"`
	MsgType    cap.MsgType      `json:"msgType"`
	Direction  models.Direction `json:"direction"`
	Headline   string           `json:"headline,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

func summarize(sa *repository.StoredAlert) alertSummary {
	s := alertSummary{
		ID:         sa.ID,
		Identifier: sa.Alert.Identifier,
		Sender:     sa.Alert.Sender,
		Sent:       sa.Alert.Sent(),
		Status:     sa.Alert.Status,
		MsgType:    sa.Alert.MsgType,
		Direction:  sa.Direction,
		CreatedAt:  sa.CreatedAt,
	}
	if len(sa.Alert.Infos) > 0 {
		s.Headline = sa.Alert.Infos[0].Headline
	}
	return s
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := listFilter(c)
	filter.Sender = c.Query("sender")
	if d := c.Query("direction"); d != "" {
		dir := models.Direction(d)
		filter.Direction = &dir
	}

	stored, err := h.alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	out := make([]alertSummary, 0, len(stored))
	for i := range stored {
		out = append(out, summarize(&stored[i]))
	}
	c.JSON(http.StatusOK, out)
}

// createAlert accepts either a CAP XML document or the flat JSON submission
// form and stores the assembled, sealed alert as outbound.
func (h *Handler) createAlert(c *gin.Context) {
	var raw cap.RawAlert
	if strings.Contains(c.ContentType(), "json") {
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		decoded, err := cap.Decode(c.Request.Body)
		if err != nil {
			h.rejectAlert(c, err)
			return
		}
		if raw, err = cap.RawFromAlert(decoded); err != nil {
			h.rejectAlert(c, err)
			return
		}
	}

	alert, err := h.assembler.Assemble(c.Request.Context(), raw)
	if _, invalid := cap.AsValidationError(err); err != nil && !invalid {
		slog.Error("failed to assemble alert", "identifier", raw.Identifier, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store alert resources"})
		return
	}
	if err != nil {
		h.rejectAlert(c, err)
		return
	}
	h.storeAlert(c, alert)
}

func (h *Handler) getAlert(c *gin.Context) {
	sa, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFoundOr(c, err, "alert")
		return
	}
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, summarize(sa))
		return
	}
	h.writeAlert(c, http.StatusOK, sa.ID, sa.Alert)
}

type deriveRequest struct {
	MsgType    string `json:"msgType" binding:"required,oneof=Update Cancel Ack Error"`
	Identifier string `json:"identifier"`
}

func (h *Handler) deriveAlert(c *gin.Context) {
	var req deriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prior, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFoundOr(c, err, "alert")
		return
	}

	next, err := h.assembler.Derive(prior.Alert, cap.MsgType(req.MsgType), req.Identifier)
	if err != nil {
		h.rejectAlert(c, err)
		return
	}
	h.storeAlert(c, next)
}

func (h *Handler) storeAlert(c *gin.Context, alert *cap.Alert) {
	id, err := h.alerts.AddAlert(c.Request.Context(), alert, models.DirectionOutbound)
	if errors.Is(err, repository.ErrDuplicateAlert) {
		c.JSON(http.StatusConflict, gin.H{"error": "alert already exists"})
		return
	}
	if err != nil {
		slog.Error("failed to store alert", "identifier", alert.Identifier, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store alert"})
		return
	}
	metrics.RecordAlert(models.DirectionOutbound)
	slog.Info("alert stored", "alert_id", id, "identifier", alert.Identifier, "msg_type", alert.MsgType)
	h.writeAlert(c, http.StatusCreated, id, alert)
}

func (h *Handler) writeAlert(c *gin.Context, status int, id string, alert *cap.Alert) {
	doc, err := cap.Marshal(alert)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode alert"})
		return
	}
	c.Header("X-Alert-ID", id)
	c.Data(status, capContentType, doc)
}

func (h *Handler) rejectAlert(c *gin.Context, err error) {
	if ve, ok := cap.AsValidationError(err); ok {
		metrics.RecordRejected()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "alert failed validation",
			"fields": ve.Fields,
		})
		return
	}
	if errors.Is(err, cap.ErrNotSent) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	slog.Warn("alert rejected", "error", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

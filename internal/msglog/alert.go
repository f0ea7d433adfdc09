package msglog

import (
	"strings"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// ContentFromAlert builds message content from the first info block of a.
func ContentFromAlert(alertID string, a *cap.Alert) Content {
	c := Content{
		AlertID:     alertID,
		FromAddress: a.Sender,
		Priority:    models.PriorityLow,
		Actionable:  a.Status == cap.StatusActual,
	}
	if len(a.Addresses) > 0 {
		c.RecipientRaw = strings.Join(a.Addresses, ", ")
	}
	if len(a.Infos) == 0 {
		c.Subject = string(a.MsgType) + " " + a.Identifier
		c.Body = a.Note
		return c
	}

	info := a.Infos[0]
	c.SenderDisplayName = info.SenderName
	c.Subject = info.Headline
	if c.Subject == "" {
		c.Subject = info.Event
	}
	if a.MsgType != cap.MsgTypeAlert {
		c.Subject = string(a.MsgType) + ": " + c.Subject
	}

	var body []string
	for _, s := range []string{info.Description, info.Instruction} {
		if s = strings.TrimSpace(s); s != "" {
			body = append(body, s)
		}
	}
	c.Body = strings.Join(body, "\n\n")
	if c.Body == "" {
		c.Body = info.Event
	}

	switch info.Severity {
	case cap.SeverityExtreme, cap.SeveritySevere:
		c.Priority = models.PriorityHigh
	case cap.SeverityModerate:
		c.Priority = models.PriorityMedium
	}
	return c
}

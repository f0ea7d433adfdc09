package sender

import (
	"context"
	"log/slog"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// Log writes the message to the structured log instead of delivering it.
// Used for channels with no configured transport in development.
type Log struct{}

func (Log) Send(ctx context.Context, address string, channel models.Channel, c Content) error {
	slog.Info("message send (log only)",
		"channel", channel,
		"address", address,
		"subject", c.Subject,
		"body_len", len(c.Body))
	return nil
}

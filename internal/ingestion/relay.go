package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
)

// DispatchRelay sends every relayed alert to a fixed set of targets as a
// system-generated outbound message.
type DispatchRelay struct {
	recorder *msglog.Recorder
	resolver *recipient.Resolver
	fanout   *dispatch.Fanout
	targets  []recipient.Target
	channel  models.Channel
}

func NewDispatchRelay(recorder *msglog.Recorder, resolver *recipient.Resolver, fanout *dispatch.Fanout, targets []string, channel string) (*DispatchRelay, error) {
	r := &DispatchRelay{
		recorder: recorder,
		resolver: resolver,
		fanout:   fanout,
	}
	for _, s := range targets {
		t, err := recipient.ParseTarget(s)
		if err != nil {
			return nil, fmt.Errorf("invalid relay target %q: %w", s, err)
		}
		r.targets = append(r.targets, t)
	}
	if channel != "" {
		ch, err := models.ParseChannel(channel)
		if err != nil {
			return nil, err
		}
		r.channel = ch
	}
	return r, nil
}

func (r *DispatchRelay) Relay(ctx context.Context, alertID string, a *cap.Alert) error {
	if len(r.targets) == 0 {
		return nil
	}

	deliveries, errs := r.resolver.ResolveAll(ctx, r.targets, r.channel)
	for _, err := range errs {
		slog.Warn("relay target unresolved", "alert_id", alertID, "error", err)
	}
	if len(deliveries) == 0 {
		return nil
	}

	msgID, err := r.recorder.Record(ctx, models.DirectionOutbound, msglog.ContentFromAlert(alertID, a))
	if err != nil {
		return err
	}
	report, err := r.fanout.Dispatch(ctx, msgID, deliveries, dispatch.SystemGenerated())
	if err != nil {
		return err
	}
	slog.Info("relayed alert", "alert_id", alertID, "message_id", msgID, "counts", report.Counts)
	return nil
}

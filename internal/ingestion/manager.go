package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/config"
	"github.com/mr1hm/go-cap-alerts/internal/metrics"
	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
	"github.com/mr1hm/go-cap-alerts/internal/worker"
)

// Relay forwards a newly ingested alert, typically by dispatching it to a
// standing recipient list.
type Relay interface {
	Relay(ctx context.Context, alertID string, a *cap.Alert) error
}

type Manager struct {
	cfg      *config.Config
	alerts   repository.AlertRepository
	recorder *msglog.Recorder
	relay    Relay
	client   *http.Client
	pool     *worker.Pool[*cap.Alert]
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, alerts repository.AlertRepository, recorder *msglog.Recorder, relay Relay) *Manager {
	return &Manager{
		cfg:      cfg,
		alerts:   alerts,
		recorder: recorder,
		relay:    relay,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, a *cap.Alert) error {
		exists, err := m.alerts.AlertExists(ctx, a.Sender, a.Identifier)
		if err != nil {
			slog.Error("error checking existence", "identifier", a.Identifier, "error", err)
			return err
		}
		if exists {
			return nil
		}
		_, err = m.Ingest(ctx, a)
		return err
	}

	m.pool = worker.NewPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, processor)
	m.pool.Start(ctx)

	if m.cfg.Feeds.Enabled {
		for _, url := range m.cfg.Feeds.URLs {
			m.wg.Add(1)
			go m.runPoller(ctx, url, m.cfg.Feeds.PollInterval)
		}
	}
}

// Ingest validates an alert received from outside, stores it and logs it as
// an inbound message. The message is marked parsed only once the alert has
// been accepted. Rejected alerts are still logged, unparsed.
func (m *Manager) Ingest(ctx context.Context, a *cap.Alert) (string, error) {
	if err := cap.Seal(a, m.now()); err != nil {
		metrics.RecordRejected()
		slog.Warn("rejected inbound alert", "identifier", a.Identifier, "sender", a.Sender, "error", err)
		if _, recErr := m.recorder.Record(ctx, models.DirectionInbound, msglog.ContentFromAlert("", a)); recErr != nil {
			slog.Error("error recording rejected alert", "identifier", a.Identifier, "error", recErr)
		}
		return "", err
	}

	alertID, err := m.alerts.AddAlert(ctx, a, models.DirectionInbound)
	if errors.Is(err, repository.ErrDuplicateAlert) {
		return "", nil
	}
	if err != nil {
		slog.Error("error adding alert", "identifier", a.Identifier, "error", err)
		return "", err
	}

	msgID, err := m.recorder.Record(ctx, models.DirectionInbound, msglog.ContentFromAlert(alertID, a))
	if err != nil {
		return alertID, err
	}
	if err := m.recorder.MarkParsed(ctx, msgID); err != nil {
		return alertID, err
	}
	metrics.RecordAlert(models.DirectionInbound)
	slog.Info("added alert", "id", alertID, "identifier", a.Identifier, "sender", a.Sender, "msg_type", a.MsgType)

	if m.relay != nil && a.Status == cap.StatusActual {
		if err := m.relay.Relay(ctx, alertID, a); err != nil {
			slog.Error("error relaying alert", "id", alertID, "error", err)
		}
	}
	return alertID, nil
}

func (m *Manager) runPoller(ctx context.Context, url string, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting poller", "url", url, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.poll(ctx, url)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "url", url)
			return
		case <-ticker.C:
			m.poll(ctx, url)
		}
	}
}

func (m *Manager) poll(ctx context.Context, url string) {
	slog.Debug("polling", "url", url)

	alerts, err := m.fetchFeed(ctx, url)
	if err != nil {
		slog.Error("poll failed", "url", url, "error", err)
		return
	}

	for _, a := range alerts {
		if err := m.pool.Submit(ctx, a); err != nil {
			slog.Warn("poll interrupted", "url", url, "error", err)
			return
		}
	}

	slog.Debug("poll complete", "url", url, "count", len(alerts))
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	m.client.CloseIdleConnections()
	slog.Info("ingestion manager stopped")
}

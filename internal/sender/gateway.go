package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// Gateway posts messages to an HTTP endpoint that performs the actual
// delivery (SMS gateway, Tropo, a Twitter relay or a plain webhook).
type Gateway struct {
	url    string
	client *http.Client
}

type gatewayRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func NewGateway(url string) *Gateway {
	return &Gateway{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Gateway) Send(ctx context.Context, address string, channel models.Channel, c Content) error {
	payload, err := json.Marshal(gatewayRequest{
		To:      address,
		Channel: string(channel),
		From:    c.From,
		Subject: c.Subject,
		Body:    c.Body,
	})
	if err != nil {
		return fmt.Errorf("error encoding gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return &Failure{Channel: channel, Address: address, Reason: "bad gateway url", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Failure{Channel: channel, Address: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Failure{
			Channel: channel,
			Address: address,
			Reason:  fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}
	return nil
}

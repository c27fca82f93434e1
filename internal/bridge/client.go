package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/config"
)

// Client publishes events to a remote realtime server's bridge ingress.
// Delivery is best-effort: failures are logged and reported, but callers
// are expected to carry on — the realtime channel is a notification layer,
// not a source of truth.
type Client struct {
	endpoint string
	token    string
	httpc    *http.Client
	logger   *slog.Logger
}

func NewClient(logger *slog.Logger, cfg config.BridgeConfig) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + cfg.EventPath,
		token:    cfg.Token,
		httpc:    &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With(slog.String("component", "bridge_client")),
	}
}

// Publish submits one event. The returned error is informational; there is
// no retry and no delivery guarantee.
func (c *Client) Publish(ctx context.Context, eventType string, payload any) error {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}
	body, err := json.Marshal(ingressRequest{
		EventType: eventType,
		Payload:   rawPayload,
		Token:     c.token,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("Bridge publish failed",
			slog.String("eventType", eventType),
			slog.Any("error", err),
		)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Bridge publish not accepted",
			slog.String("eventType", eventType),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("publish %s: unexpected status %d", eventType, resp.StatusCode)
	}
	return nil
}

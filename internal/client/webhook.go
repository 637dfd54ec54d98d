package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/model"
)

// WebhookClient posts audit messages to a chat webhook.
type WebhookClient struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// NewWebhookClient creates a WebhookClient for cfg.Webhook.URL. An empty URL
// yields a client for which Enabled reports false.
func NewWebhookClient(cfg *config.Config, logger *slog.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		},
		url:    cfg.Webhook.URL,
		logger: logger.With("component", "webhook_client"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (c *WebhookClient) Enabled() bool {
	return c.url != ""
}

// Post sends msg as JSON to the webhook. Any non-2xx answer is an error.
func (c *WebhookClient) Post(ctx context.Context, msg model.WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the webhook token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.logger.Debug("webhook delivered", "status", resp.StatusCode)
	return nil
}

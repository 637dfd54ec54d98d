package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vrchat-video-proxy/internal/client"
	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/metrics"
	"vrchat-video-proxy/internal/model"
)

// TimestampLayout renders audit timestamps as UTC ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// maxWebhookContent is Discord's message content limit, in characters.
const maxWebhookContent = 2000

// AuditService records every inbound request to the process log and, when
// configured, to the audit webhook.
type AuditService struct {
	webhook *client.WebhookClient
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// NewAuditService creates an AuditService.
// The metrics parameter is optional; pass nil to disable delivery metrics.
func NewAuditService(wc *client.WebhookClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *AuditService {
	return &AuditService{
		webhook: wc,
		timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "audit"),
		metrics: m,
	}
}

// Record logs the entry and posts it to the webhook in the background. It never
// blocks on the webhook and never fails.
func (s *AuditService) Record(entry model.AccessEntry) {
	s.logger.Info("video proxy access",
		"ip", entry.IP,
		"user_agent", entry.UserAgent,
		"timestamp", entry.Timestamp.UTC().Format(TimestampLayout),
		"video_url", entry.VideoURL,
	)

	if s.webhook == nil || !s.webhook.Enabled() {
		return
	}

	msg := model.WebhookMessage{Content: FormatMessage(entry)}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Detached from the request: the client response must not wait on the
		// webhook, and a finished request must not cancel the post.
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		if err := s.webhook.Post(ctx, msg); err != nil {
			s.logger.Error("webhook delivery failed", "err", err)
			s.observe("error")
			return
		}
		s.observe("ok")
	}()
}

func (s *AuditService) observe(result string) {
	if s.metrics != nil {
		s.metrics.WebhookDeliveries.WithLabelValues(result).Inc()
	}
}

// Wait blocks until in-flight webhook posts finish or ctx is done.
func (s *AuditService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for webhook deliveries: %w", ctx.Err())
	}
}

// FormatMessage renders the entry as the Markdown webhook message, cut to the
// webhook's content limit.
func FormatMessage(entry model.AccessEntry) string {
	content := fmt.Sprintf("**Video Proxy Access**\n**IP:** %s\n**User-Agent:** %s\n**Timestamp:** %s\n**Video URL:** %s",
		entry.IP,
		entry.UserAgent,
		entry.Timestamp.UTC().Format(TimestampLayout),
		entry.VideoURL,
	)
	return truncateRunes(content, maxWebhookContent)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

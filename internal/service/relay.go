// Package service implements the relay fetch logic and the access audit.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"vrchat-video-proxy/internal/client"
	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/model"
)

// ErrInvalidTarget is returned when the target URL cannot be decoded.
var ErrInvalidTarget = errors.New("invalid target url")

// ErrTransferTooLarge is returned when the origin announces a body larger than
// upstream.max_transfer_bytes.
var ErrTransferTooLarge = errors.New("origin content exceeds max transfer size")

// OriginStatusError reports an origin answer outside the 2xx range.
type OriginStatusError struct {
	StatusCode int
}

func (e *OriginStatusError) Error() string {
	return fmt.Sprintf("origin returned status %d", e.StatusCode)
}

// RelayService fetches media from the origin on behalf of a client.
type RelayService struct {
	client *client.OriginClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "relay_service"),
	}
}

// Fetch decodes the target URL, requests it from the origin with the client's
// User-Agent and Range, and returns the origin response once it is known to be
// a 2xx. The caller is responsible for closing the response body.
func (s *RelayService) Fetch(rr *model.RelayRequest) (*model.OriginResponse, error) {
	target, err := url.PathUnescape(rr.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	ctx, cancel := s.streamContext(rr.Ctx)

	s.logger.Debug("fetching origin",
		"range", rr.Range,
	)

	resp, err := s.client.Get(ctx, target, s.buildHeader(rr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch origin: %w", err)
	}

	if !isOK(resp.StatusCode) {
		_ = resp.Body.Close()
		cancel()
		return nil, &OriginStatusError{StatusCode: resp.StatusCode}
	}

	limit := s.cfg.Upstream.MaxTransferBytes
	if limit > 0 && resp.ContentLength > limit {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %d > %d", ErrTransferTooLarge, resp.ContentLength, limit)
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit)
	}
	resp.Body = &streamBody{Reader: body, closer: resp.Body, cancel: cancel}
	return resp, nil
}

// streamContext bounds the whole transfer when stream_timeout_seconds is set.
// The returned cancel must run once the body is done.
func (s *RelayService) streamContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d := s.cfg.Upstream.StreamTimeoutSeconds; d > 0 {
		return context.WithTimeout(parent, time.Duration(d)*time.Second)
	}
	return context.WithCancel(parent)
}

func (s *RelayService) buildHeader(rr *model.RelayRequest) http.Header {
	header := make(http.Header)
	ua := rr.UserAgent
	if ua == "" {
		ua = s.cfg.Upstream.UserAgent
	}
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	header.Set("User-Agent", ua)
	if rr.Range != "" {
		header.Set("Range", rr.Range)
	}
	return header
}

// isOK matches the fetch API's Response.ok: any 2xx, so 206 Partial Content
// passes and 4xx/5xx do not.
func isOK(status int) bool {
	return status >= 200 && status <= 299
}

// streamBody releases the stream context when the body is closed.
type streamBody struct {
	io.Reader
	closer io.Closer
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.closer.Close()
	b.cancel()
	return err
}

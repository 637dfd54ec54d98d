// Package client provides the outbound HTTP clients: the media origin fetcher
// and the audit webhook poster.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/metrics"
	"vrchat-video-proxy/internal/model"
)

// OriginClient fetches media from origin servers.
type OriginClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOriginClient creates an OriginClient with connection pooling and a
// response-header timeout. There is no overall client timeout: a stream may
// legitimately run for as long as the video plays, and its lifetime is bounded
// by the request context instead.
// The metrics parameter is optional; pass nil to disable origin metrics recording.
func NewOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		// Byte ranges and Content-Length must describe the origin's bytes, not a
		// transparently decompressed body.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &OriginClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "origin_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the origin and returns the raw response.
// The caller is responsible for closing the response body.
func (c *OriginClient) Do(req *http.Request) (*model.OriginResponse, error) {
	c.logger.Debug("origin request",
		"host", req.URL.Host,
		"range", req.Header.Get("Range"),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via OriginResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.OriginDuration.Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.OriginResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.OriginResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// Get issues a GET for rawURL and returns the response with its body still
// unread. The caller is responsible for closing the returned body.
// The provided context controls the lifetime of the origin request, body
// included: when the context is canceled (e.g. client disconnects), the origin
// read is aborted.
func (c *OriginClient) Get(ctx context.Context, rawURL string, header http.Header) (*model.OriginResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

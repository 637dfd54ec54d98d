package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/metrics"
	"vrchat-video-proxy/internal/model"
	"vrchat-video-proxy/internal/service"
)

const defaultContentType = "video/mp4"

// Client-visible error messages.
const (
	msgMethodNotAllowed = "Method not allowed"
	msgMissingURL       = "Missing ?url= parameter"
	msgProxyFailed      = "Failed to proxy video"
)

// queryPattern matches query strings of URLs embedded in error messages; media
// URLs often carry signed tokens.
var queryPattern = regexp.MustCompile(`\?[^\s"]*`)

// RelayHandler streams origin media back to the client.
type RelayHandler struct {
	service   *service.RelayService
	audit     *service.AuditService
	urlSource string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelayHandler creates a RelayHandler.
// The metrics parameter is optional; pass nil to disable relay metrics.
func NewRelayHandler(svc *service.RelayService, audit *service.AuditService, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:   svc,
		audit:     audit,
		urlSource: cfg.Audit.URLSource,
		metrics:   m,
		logger:    logger.With("component", "relay_handler"),
		now:       time.Now,
	}
}

// Handle audits the request, validates it, fetches the target from the origin
// and streams the response back with range headers preserved.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	h.audit.Record(h.accessEntry(c))

	if req.Method != http.MethodGet {
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{"error": msgMethodNotAllowed})
	}

	target := c.QueryParam("url")
	if target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgMissingURL})
	}

	rangeHeader := req.Header.Get("Range")
	rr := &model.RelayRequest{
		Ctx:       req.Context(),
		TargetURL: target,
		Range:     rangeHeader,
		UserAgent: req.Header.Get("User-Agent"),
	}

	resp, err := h.service.Fetch(rr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		header.Set("Content-Length", cl)
	}

	status := resp.StatusCode
	if cr := resp.Header.Get("Content-Range"); rangeHeader != "" && cr != "" {
		status = http.StatusPartialContent
		header.Set("Content-Range", cr)
	}

	c.Response().WriteHeader(status)

	// Headers are on the wire; a failure from here on can only end the stream.
	n, err := io.Copy(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.BytesRelayed.Add(float64(n))
	}
	if err != nil {
		h.logger.Warn("stream interrupted",
			"err", sanitizeError(err),
			"bytes", n,
			"client_gone", req.Context().Err() != nil,
		)
	}

	return nil
}

// accessEntry builds the audit record for the request.
func (h *RelayHandler) accessEntry(c echo.Context) model.AccessEntry {
	req := c.Request()

	ua := req.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}

	var videoURL string
	switch h.urlSource {
	case config.URLSourceQuery:
		videoURL = c.QueryParam("url")
	default:
		videoURL = displayURL(rawURLParam(req.RequestURI))
	}
	if videoURL == "" {
		videoURL = "unknown"
	}

	return model.AccessEntry{
		IP:        c.RealIP(),
		UserAgent: ua,
		Timestamp: h.now(),
		VideoURL:  videoURL,
	}
}

// rawURLParam extracts the url parameter positionally from a request URI: the
// text between the first and second '?', then between the first and second
// "url=". Anything following the value (e.g. "&t=10") is kept.
func rawURLParam(requestURI string) string {
	_, query, ok := strings.Cut(requestURI, "?")
	if !ok {
		return ""
	}
	query, _, _ = strings.Cut(query, "?")
	_, value, ok := strings.Cut(query, "url=")
	if !ok {
		return ""
	}
	value, _, _ = strings.Cut(value, "url=")
	return value
}

// displayURL percent-decodes raw for logging, leaving it as-is when malformed.
func displayURL(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// mapError logs err and answers 500. Every relay failure looks the same to the
// client; the reason is only visible in logs and metrics.
func (h *RelayHandler) mapError(c echo.Context, err error) error {
	reason := classifyError(err)

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"reason", reason,
	)
	if h.metrics != nil {
		h.metrics.RelayErrors.WithLabelValues(reason).Inc()
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": msgProxyFailed})
}

// classifyError returns a bounded label describing why a fetch failed.
func classifyError(err error) string {
	var statusErr *service.OriginStatusError
	if errors.As(err, &statusErr) {
		return "origin_status"
	}
	if errors.Is(err, service.ErrInvalidTarget) {
		return "invalid_url"
	}
	if errors.Is(err, service.ErrTransferTooLarge) {
		return "too_large"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connection"
	}

	return "other"
}

// sanitizeError redacts query strings from URLs embedded in error messages.
func sanitizeError(err error) string {
	return queryPattern.ReplaceAllString(err.Error(), "?[REDACTED]")
}

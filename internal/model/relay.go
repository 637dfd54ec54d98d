// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RelayRequest carries what the relay needs from an inbound request to build
// the origin fetch.
type RelayRequest struct {
	Ctx       context.Context
	TargetURL string // value of the url query parameter, decoded once by the query parser
	Range     string
	UserAgent string
}

// OriginResponse is the origin's answer to a RelayRequest. Body is consumed once
// and must be closed by the caller.
type OriginResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// AccessEntry is the audit bundle emitted for every inbound request.
type AccessEntry struct {
	IP        string
	UserAgent string
	Timestamp time.Time
	VideoURL  string
}

// WebhookMessage is the JSON body posted to the audit webhook.
type WebhookMessage struct {
	Content string `json:"content"`
}

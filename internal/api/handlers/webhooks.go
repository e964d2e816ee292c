// Package handlers implements the /v1 HTTP API: webhook intake, rule
// management, channel tooling and notification status. Handlers depend on
// small local interfaces and are mounted through core.Server's
// V1RouteRegistrars.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"hookrouter/internal/core"
	"hookrouter/internal/ingest"
	"hookrouter/internal/types"
)

// EventIngestor normalizes inbound payloads and hands them to the
// asynchronous routing pool. Satisfied by *ingest.Service.
type EventIngestor interface {
	NewEvent(source string, data map[string]any, header http.Header) *types.Event
	Submit(ev *types.Event) error
}

// sourcePattern restricts source identifiers to URL and metric safe names.
var sourcePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// WebhookAccepted is the 202 response body.
type WebhookAccepted struct {
	WebhookID string    `json:"webhookId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookHandler accepts inbound webhooks. It acknowledges as soon as the
// event is buffered; routing happens in the ingest worker pool.
type WebhookHandler struct {
	ingest    EventIngestor
	metrics   types.MetricsRecorder
	bodyLimit int64
	logger    types.Logger
}

func NewWebhookHandler(ing EventIngestor, metrics types.MetricsRecorder, bodyLimit int64, l types.Logger) *WebhookHandler {
	return &WebhookHandler{ingest: ing, metrics: metrics, bodyLimit: bodyLimit, logger: l}
}

// RegisterRoutes mounts the webhook routes. secure guards the signed
// variant, normally core.Server.RequireSignature.
func (h *WebhookHandler) RegisterRoutes(r chi.Router, secure func(http.Handler) http.Handler) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/test", h.Test)
		r.Post("/{source}", h.Receive)
		r.With(secure).Post("/{source}/secure", h.Receive)
	})
}

// Test handles GET /v1/webhooks/test, a connectivity check for API clients.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, map[string]any{
		"message":   "webhook endpoint is working",
		"timestamp": time.Now().UTC(),
	})
}

// Receive handles POST /v1/webhooks/{source} and its signed variant.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !sourcePattern.MatchString(source) {
		h.reject(w, r, source, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"source must be 1-128 characters of letters, digits, '.', '_' or '-'", nil))
		return
	}

	body, err := core.ReadBody(w, r, h.bodyLimit)
	if err != nil {
		h.reject(w, r, source, err)
		return
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		h.reject(w, r, source, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"request body must be a JSON object", err))
		return
	}
	if len(data) == 0 {
		h.reject(w, r, source, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			"request body cannot be empty", nil))
		return
	}

	ev := h.ingest.NewEvent(source, data, r.Header)
	if err := h.ingest.Submit(ev); err != nil {
		h.metrics.WebhookReceived(r.Context(), source, ingest.StatusRejected)
		if errors.Is(err, ingest.ErrBusy) || errors.Is(err, ingest.ErrStopped) {
			w.Header().Set("Retry-After", "1")
			core.JSON(w, r, http.StatusServiceUnavailable, core.APIErrorResponse{Error: core.ErrorDetail{
				Code:      string(types.ErrCodeInternalQueue),
				Message:   "webhook intake is saturated, retry shortly",
				RequestID: types.GetRequestID(r.Context()),
			}})
			return
		}
		core.Error(w, r, err)
		return
	}

	h.metrics.WebhookReceived(r.Context(), source, ingest.StatusAccepted)
	logFor(r, h.logger).Info("webhook accepted",
		"webhook_id", ev.ID,
		"source", source,
		"bytes", len(body),
	)

	core.Data(w, r, http.StatusAccepted, WebhookAccepted{
		WebhookID: ev.ID,
		Status:    ingest.StatusAccepted,
		Timestamp: ev.ReceivedAt,
	})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, source string, err error) {
	if sourcePattern.MatchString(source) {
		h.metrics.WebhookReceived(r.Context(), source, ingest.StatusRejected)
	}
	core.Error(w, r, err)
}

// logFor prefers the request-scoped logger set by core.RequestLogger.
func logFor(r *http.Request, fallback types.Logger) types.Logger {
	if l := types.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return fallback
}

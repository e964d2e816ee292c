package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hookrouter/internal/core"
	"hookrouter/internal/types"
)

// QueueStatusReader reports queue job counts.
type QueueStatusReader interface {
	Status(ctx context.Context) (types.QueueStatus, error)
}

// NotificationReader reads tracked message status. Satisfied by the
// memory tracker and db.NotificationRepository.
type NotificationReader interface {
	types.StatusTracker
	ListByEvent(ctx context.Context, eventID string) ([]*types.NotificationMessage, error)
}

// NotificationHandler serves queue status and message status lookups.
type NotificationHandler struct {
	queue   QueueStatusReader
	tracker NotificationReader
	enqueue types.Enqueuer
	clock   types.Clock
}

// NewNotificationHandler wires the handler. enqueue may be nil when the
// process only produces to SQS; retries are then rejected.
func NewNotificationHandler(q QueueStatusReader, tracker NotificationReader, enqueue types.Enqueuer, clock types.Clock) *NotificationHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &NotificationHandler{queue: q, tracker: tracker, enqueue: enqueue, clock: clock}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListByEvent)
		r.Get("/queue/status", h.QueueStatus)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/retry", h.Retry)
	})
}

// QueueStatus handles GET /v1/notifications/queue/status.
func (h *NotificationHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Status(r.Context())
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to read queue status", err))
		return
	}
	core.Data(w, r, http.StatusOK, st)
}

// Get handles GET /v1/notifications/{id}.
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, msg)
}

// ListByEvent handles GET /v1/notifications?webhookId=...
func (h *NotificationHandler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("webhookId")
	if eventID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "webhookId query parameter is required", nil))
		return
	}
	msgs, err := h.tracker.ListByEvent(r.Context(), eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*types.NotificationMessage{}
	}
	core.Data(w, r, http.StatusOK, msgs)
}

// Retry handles POST /v1/notifications/{id}/retry. Only failed messages can
// be retried; the message is re-enqueued with a fresh attempt budget.
func (h *NotificationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if h.enqueue == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "retries are not available on this deployment", nil))
		return
	}
	msg, err := h.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if msg.Status.State != types.StateFailed {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("only failed notifications can be retried, this one is %s", msg.Status.State), nil,
			map[string]any{"state": string(msg.Status.State)}))
		return
	}

	msg.Status = types.MessageStatus{State: types.StatePending}
	msg.UpdatedAt = h.clock.Now().UTC()
	if err := h.tracker.Track(r.Context(), msg); err != nil {
		core.Error(w, r, err)
		return
	}
	jobID, err := h.enqueue.Enqueue(r.Context(), msg, msg.Priority.Weight())
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue notification", err))
		return
	}
	core.Data(w, r, http.StatusAccepted, map[string]any{
		"id":        msg.ID,
		"jobId":     jobID,
		"status":    msg.Status,
		"updatedAt": msg.UpdatedAt.Format(time.RFC3339Nano),
	})
}

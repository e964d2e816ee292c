package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hookrouter/internal/core"
	"hookrouter/internal/types"
)

// ChannelRegistry exposes the installed channel adapters.
type ChannelRegistry interface {
	Get(t types.ChannelType) (types.Channel, bool)
	Types() []types.ChannelType
}

// ChannelTypeInfo describes one installed adapter.
type ChannelTypeInfo struct {
	Type    types.ChannelType `json:"type"`
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
}

// ChannelValidateRequest is the body of POST /v1/channels/validate.
type ChannelValidateRequest struct {
	Type   types.ChannelType `json:"type" validate:"required"`
	Config map[string]any    `json:"config" validate:"required"`
}

// ChannelTestRequest is the body of POST /v1/channels/test. Content
// defaults to a short test message.
type ChannelTestRequest struct {
	Type    types.ChannelType     `json:"type" validate:"required"`
	Config  map[string]any        `json:"config" validate:"required"`
	Content *types.MessageContent `json:"content,omitempty"`
}

// ChannelHandler lists adapters, validates configs and sends test messages.
type ChannelHandler struct {
	registry    ChannelRegistry
	validator   *core.Validator
	sendTimeout time.Duration
	bodyLimit   int64
}

func NewChannelHandler(reg ChannelRegistry, v *core.Validator, sendTimeout time.Duration, bodyLimit int64) *ChannelHandler {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &ChannelHandler{registry: reg, validator: v, sendTimeout: sendTimeout, bodyLimit: bodyLimit}
}

func (h *ChannelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/channels", func(r chi.Router) {
		r.Get("/types", h.Types)
		r.Post("/validate", h.Validate)
		r.Post("/test", h.Test)
	})
}

// Types handles GET /v1/channels/types.
func (h *ChannelHandler) Types(w http.ResponseWriter, r *http.Request) {
	installed := h.registry.Types()
	out := make([]ChannelTypeInfo, 0, len(installed))
	for _, t := range installed {
		out = append(out, ChannelTypeInfo{Type: t, Name: displayName(t), Enabled: true})
	}
	core.Data(w, r, http.StatusOK, out)
}

func displayName(t types.ChannelType) string {
	switch t {
	case types.ChannelSMS:
		return "SMS"
	case "":
		return ""
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}

func (h *ChannelHandler) channel(t types.ChannelType) (types.Channel, error) {
	ch, ok := h.registry.Get(t)
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundChannel,
			fmt.Sprintf("channel type %q is not installed", t), nil,
			map[string]any{"type": string(t)})
	}
	return ch, nil
}

// Validate handles POST /v1/channels/validate.
func (h *ChannelHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ChannelValidateRequest
	if err := core.DecodeJSON(w, r, h.bodyLimit, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	ch, err := h.channel(req.Type)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]any{"valid": ch.Validate(req.Config), "type": req.Type})
}

// Test handles POST /v1/channels/test. A failed send is still a 200: the
// DeliveryResult carries the outcome.
func (h *ChannelHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req ChannelTestRequest
	if err := core.DecodeJSON(w, r, h.bodyLimit, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	ch, err := h.channel(req.Type)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ch.Validate(req.Config) {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("invalid config for %s channel", req.Type), nil,
			map[string]any{"type": string(req.Type)}))
		return
	}

	content := types.MessageContent{
		Title: "hookrouter test",
		Body:  "This is a test notification from hookrouter.",
		Data:  map[string]any{},
	}
	if req.Content != nil {
		content = *req.Content
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.sendTimeout)
	defer cancel()
	res, err := ch.Send(ctx, content, req.Config)
	if err != nil {
		res = &types.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}
	if log := types.LoggerFromContext(r.Context()); log != nil {
		log.Info("channel test sent", "channel", string(req.Type), "success", res.Success)
	}
	core.Data(w, r, http.StatusOK, res)
}

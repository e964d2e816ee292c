package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hookrouter/internal/core"
	"hookrouter/internal/types"
)

// RuleValidator checks a rule against the installed channel adapters.
// Satisfied by the notifications core Registry.
type RuleValidator interface {
	ValidateRule(rule *types.RoutingRule) error
}

// DryRunner evaluates an event against every rule without enqueueing.
// Satisfied by *routing.Engine.
type DryRunner interface {
	DryRun(ctx context.Context, ev *types.Event) ([]*types.NotificationMessage, error)
}

// RuleRequest is the body of POST /v1/rules and PUT /v1/rules/{id}.
type RuleRequest struct {
	ID         string                  `json:"id,omitempty" validate:"omitempty,max=128"`
	Name       string                  `json:"name" validate:"required,max=200"`
	Enabled    *bool                   `json:"enabled,omitempty"`
	Priority   int                     `json:"priority"`
	Conditions types.RoutingConditions `json:"conditions"`
	Channels   types.ChannelList       `json:"channels" validate:"required,min=1"`
	Transform  *types.TransformSpec    `json:"transform,omitempty"`
}

func (req *RuleRequest) toRule() *types.RoutingRule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &types.RoutingRule{
		ID:         req.ID,
		Name:       req.Name,
		Enabled:    enabled,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Channels:   req.Channels,
		Transform:  req.Transform,
	}
}

// TestEventRequest is the body of POST /v1/rules/test.
type TestEventRequest struct {
	Source  string            `json:"source" validate:"required"`
	Data    map[string]any    `json:"data" validate:"required"`
	Headers map[string]string `json:"headers,omitempty"`
}

// TestEventResponse lists what routing the event would produce.
type TestEventResponse struct {
	Event    *types.Event                 `json:"event"`
	Matched  int                          `json:"matched"`
	Messages []*types.NotificationMessage `json:"messages"`
}

// RuleHandler serves rule CRUD and dry runs.
type RuleHandler struct {
	store     types.RuleStore
	rules     RuleValidator
	dryRun    DryRunner
	validator *core.Validator
	clock     types.Clock
	bodyLimit int64
}

func NewRuleHandler(store types.RuleStore, rv RuleValidator, dr DryRunner, v *core.Validator, clock types.Clock, bodyLimit int64) *RuleHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RuleHandler{store: store, rules: rv, dryRun: dr, validator: v, clock: clock, bodyLimit: bodyLimit}
}

func (h *RuleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/test", h.Test)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// List handles GET /v1/rules.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.GetAllRules(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rules == nil {
		rules = []*types.RoutingRule{}
	}
	core.Data(w, r, http.StatusOK, rules)
}

// Get handles GET /v1/rules/{id}.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, rule)
}

func (h *RuleHandler) decodeRule(w http.ResponseWriter, r *http.Request) (*types.RoutingRule, error) {
	var req RuleRequest
	if err := core.DecodeJSON(w, r, h.bodyLimit, &req); err != nil {
		return nil, err
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	rule := req.toRule()
	if err := h.rules.ValidateRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Create handles POST /v1/rules.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.store.Create(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}
	if log := types.LoggerFromContext(r.Context()); log != nil {
		log.Info("rule created", "rule_id", rule.ID, "rule_name", rule.Name)
	}
	core.Data(w, r, http.StatusCreated, rule)
}

// Update handles PUT /v1/rules/{id}. The path ID wins over any ID in the
// body.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := h.store.Update(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, rule)
}

// Delete handles DELETE /v1/rules/{id}.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /v1/rules/test: the event runs through the real
// evaluator and transformer but nothing is enqueued.
func (h *RuleHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestEventRequest
	if err := core.DecodeJSON(w, r, h.bodyLimit, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	ev := &types.Event{
		ID:         uuid.NewString(),
		ReceivedAt: h.clock.Now().UTC(),
		Source:     req.Source,
		Data:       req.Data,
		Headers:    req.Headers,
	}
	msgs, err := h.dryRun.DryRun(r.Context(), ev)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*types.NotificationMessage{}
	}

	rulesHit := make(map[any]struct{})
	for _, m := range msgs {
		rulesHit[m.Metadata[types.MetaRuleID]] = struct{}{}
	}
	core.Data(w, r, http.StatusOK, TestEventResponse{Event: ev, Matched: len(rulesHit), Messages: msgs})
}

// Package core provides the delivery infrastructure shared by every channel
// adapter: the channel registry, the notification processor with its retry
// decisions, and the metrics recorders.
package core

import (
	"fmt"

	"hookrouter/internal/types"
)

// Registry maps channel types to their adapters. It is built once at startup
// and never mutated afterwards, so lookups need no locking.
type Registry struct {
	channels map[types.ChannelType]types.Channel
	order    []types.ChannelType
}

// NewRegistry registers the given adapters. Registering two adapters for the
// same type is a wiring bug and returns an error.
func NewRegistry(channels ...types.Channel) (*Registry, error) {
	r := &Registry{
		channels: make(map[types.ChannelType]types.Channel, len(channels)),
	}
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		t := ch.Type()
		if !t.IsKnown() {
			return nil, fmt.Errorf("channel adapter reports unknown type %q", t)
		}
		if _, dup := r.channels[t]; dup {
			return nil, fmt.Errorf("channel adapter for %q registered twice", t)
		}
		r.channels[t] = ch
		r.order = append(r.order, t)
	}
	return r, nil
}

// Get returns the adapter for t.
func (r *Registry) Get(t types.ChannelType) (types.Channel, bool) {
	ch, ok := r.channels[t]
	return ch, ok
}

// Types lists the registered channel types in registration order.
func (r *Registry) Types() []types.ChannelType {
	out := make([]types.ChannelType, len(r.order))
	copy(out, r.order)
	return out
}

// Validate checks one channel entry against its adapter.
func (r *Registry) Validate(entry types.ChannelEntry) error {
	ch, ok := r.channels[entry.Type]
	if !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("no adapter installed for channel type %q", entry.Type), nil,
			map[string]any{"type": string(entry.Type)})
	}
	if !ch.Validate(entry.Config) {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidChannel,
			fmt.Sprintf("invalid config for %s channel", entry.Type), nil,
			map[string]any{"type": string(entry.Type), "name": entry.Name})
	}
	return nil
}

// ValidateRule runs the structural rule checks and then validates every
// channel entry against the installed adapters.
func (r *Registry) ValidateRule(rule *types.RoutingRule) error {
	if err := types.ValidateRule(rule); err != nil {
		return err
	}
	for i, entry := range rule.Channels {
		if err := r.Validate(entry); err != nil {
			if appErr, ok := err.(*types.AppError); ok {
				return appErr.WithDetails(map[string]any{"index": i})
			}
			return err
		}
	}
	return nil
}

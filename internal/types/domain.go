package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a normalized inbound webhook payload. It is immutable once created.
type Event struct {
	ID         string            `json:"id"`
	ReceivedAt time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Data       map[string]any    `json:"data"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// WildcardSource matches every event source.
const WildcardSource = "*"

// SourceMatcher is the normalized set form of a rule's source condition.
// It decodes from either a single string or a list of strings.
type SourceMatcher []string

// UnmarshalJSON accepts "github" as well as ["github", "gitlab"].
func (s *SourceMatcher) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = SourceMatcher{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("source must be a string or a list of strings: %w", err)
	}
	*s = SourceMatcher(many)
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON for rule files.
func (s *SourceMatcher) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = SourceMatcher{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return fmt.Errorf("source must be a string or a list of strings: %w", err)
	}
	*s = SourceMatcher(many)
	return nil
}

// Matches reports whether source is a member of the set or the set holds
// the wildcard marker.
func (s SourceMatcher) Matches(source string) bool {
	for _, v := range s {
		if v == WildcardSource || v == source {
			return true
		}
	}
	return false
}

// TimeWindow restricts matching to a daily window, optionally on selected
// weekdays (0 = Sunday). End before Start crosses midnight.
type TimeWindow struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Days     []int  `json:"days,omitempty" yaml:"days,omitempty"`
}

// RoutingConditions is the declarative predicate attached to a rule. Every
// populated check must pass for the rule to match.
type RoutingConditions struct {
	Source     SourceMatcher  `json:"source,omitempty" yaml:"source,omitempty"`
	Priority   PriorityLevel  `json:"priority,omitempty" yaml:"priority,omitempty"`
	Keywords   []string       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Fields     map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	TimeWindow *TimeWindow    `json:"timeWindow,omitempty" yaml:"timeWindow,omitempty"`

	// Custom is accepted for schema compatibility and never evaluated.
	Custom string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// TransformSpec describes how event data is rendered into message content.
type TransformSpec struct {
	Template string `json:"template" yaml:"template"`
	Engine   string `json:"engine,omitempty" yaml:"engine,omitempty"`

	// Helpers is accepted for schema compatibility and never evaluated.
	Helpers map[string]string `json:"helpers,omitempty" yaml:"helpers,omitempty"`
}

// RetryPolicy bounds redelivery of a message for one channel entry.
type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts" yaml:"maxAttempts"`
	BackoffMultiplier float64 `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	InitialDelayMs    int64   `json:"initialDelay" yaml:"initialDelay"`
	MaxDelayMs        int64   `json:"maxDelay" yaml:"maxDelay"`
}

// DefaultRetryPolicy applies to channel entries without their own policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	BackoffMultiplier: 2,
	InitialDelayMs:    1000,
	MaxDelayMs:        30000,
}

// ChannelEntry is one delivery target of a rule.
type ChannelEntry struct {
	Type        ChannelType    `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Config      map[string]any `json:"config" yaml:"config"`
	Template    string         `json:"template,omitempty" yaml:"template,omitempty"`
	DelayMs     int64          `json:"delay,omitempty" yaml:"delay,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
}

// Policy returns the entry's retry policy or the default.
func (c ChannelEntry) Policy() RetryPolicy {
	if c.RetryPolicy == nil || c.RetryPolicy.MaxAttempts <= 0 {
		return DefaultRetryPolicy
	}
	return *c.RetryPolicy
}

// ChannelList is the ordered set of entries stored on a rule.
type ChannelList []ChannelEntry

// RoutingRule maps matching events to a list of channels.
type RoutingRule struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Priority   int               `json:"priority" yaml:"priority"`
	Conditions RoutingConditions `json:"conditions" yaml:"conditions"`
	Channels   ChannelList       `json:"channels" yaml:"channels"`
	Transform  *TransformSpec    `json:"transform,omitempty" yaml:"transform,omitempty"`
	CreatedAt  time.Time         `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time         `json:"updatedAt" yaml:"-"`
}

// AppliesToSource reports whether the rule should be considered for an
// event from source. Rules without a source condition apply everywhere.
func (r *RoutingRule) AppliesToSource(source string) bool {
	if len(r.Conditions.Source) == 0 {
		return true
	}
	return r.Conditions.Source.Matches(source)
}

// Attachment is a media reference carried with message content.
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
	Size int64          `json:"size,omitempty"`
}

// Action is an interactive element (button or link) rendered by channels
// that support it.
type Action struct {
	Type   ActionType `json:"type"`
	Text   string     `json:"text"`
	URL    string     `json:"url,omitempty"`
	Action string     `json:"action,omitempty"`
	Style  string     `json:"style,omitempty"`
}

// MessageContent is the channel-agnostic payload produced by transformation.
type MessageContent struct {
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Actions     []Action       `json:"actions,omitempty"`
}

// ChannelDelivery records the outcome of one channel entry in the most
// recent processing pass.
type ChannelDelivery struct {
	Type       ChannelType `json:"type"`
	Name       string      `json:"name,omitempty"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	MessageID  string      `json:"messageId,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// MessageStatus tracks delivery progress of a NotificationMessage.
type MessageStatus struct {
	State         MessageState      `json:"state"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"lastAttemptAt,omitempty"`
	Error         string            `json:"error,omitempty"`
	DeliveryInfo  map[string]any    `json:"deliveryInfo,omitempty"`
	Deliveries    []ChannelDelivery `json:"deliveries,omitempty"`
}

// NotificationMessage is the unit of queued work: one per matched
// (rule, channel entry) pair. The routing engine creates it; after that only
// the processor mutates it.
type NotificationMessage struct {
	ID        string         `json:"id"`
	EventID   string         `json:"webhookId"`
	Priority  PriorityLevel  `json:"priority"`
	Channels  []ChannelEntry `json:"channels"`
	Content   MessageContent `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Status    MessageStatus  `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Metadata keys set by the routing engine.
const (
	MetaRuleID   = "ruleId"
	MetaRuleName = "ruleName"
	MetaSource   = "source"
)

// DeliveryResult is what a channel reports for one send. It is folded into
// MessageStatus and never stored on its own.
type DeliveryResult struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"messageId,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// QueueStatus reports job counts of a queue backend.
type QueueStatus struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

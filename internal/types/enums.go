package types

// ChannelType identifies a notification delivery channel.
// The set is closed: adapters are registered against these tags only.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelSMS      ChannelType = "sms"
	ChannelSlack    ChannelType = "slack"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelTeams    ChannelType = "teams"
	ChannelWebhook  ChannelType = "webhook"
)

// AllChannelTypes lists every known channel type in display order.
var AllChannelTypes = []ChannelType{
	ChannelEmail,
	ChannelSMS,
	ChannelSlack,
	ChannelTelegram,
	ChannelDiscord,
	ChannelTeams,
	ChannelWebhook,
}

// IsKnown reports whether c is one of the enumerated channel types.
func (c ChannelType) IsKnown() bool {
	for _, t := range AllChannelTypes {
		if t == c {
			return true
		}
	}
	return false
}

// MessageState is the lifecycle state of a NotificationMessage.
//
//	pending -> processing -> {delivered, failed, retry}
//
// retry re-enters processing only when the queue redelivers the message.
type MessageState string

const (
	StatePending    MessageState = "pending"
	StateProcessing MessageState = "processing"
	StateDelivered  MessageState = "delivered"
	StateFailed     MessageState = "failed"
	StateRetry      MessageState = "retry"
)

// IsTerminal reports whether no further processing is expected.
func (s MessageState) IsTerminal() bool {
	return s == StateDelivered || s == StateFailed
}

// PriorityLevel is the urgency declared on a rule's conditions and carried
// onto every message that rule produces.
type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
)

// Queue weights for each priority level. Higher weights are scheduled first.
const (
	PriorityWeightHigh   = 10
	PriorityWeightMedium = 5
	PriorityWeightLow    = 1
)

// Weight maps the level to its queue priority. Unknown or empty levels
// are treated as medium.
func (p PriorityLevel) Weight() int {
	switch p {
	case PriorityHigh:
		return PriorityWeightHigh
	case PriorityLow:
		return PriorityWeightLow
	default:
		return PriorityWeightMedium
	}
}

// OrDefault returns p, or medium when p is empty.
func (p PriorityLevel) OrDefault() PriorityLevel {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// IsValid reports whether p is empty or one of the declared levels.
func (p PriorityLevel) IsValid() bool {
	switch p {
	case "", PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// AttachmentType classifies a content attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentVideo AttachmentType = "video"
)

// ActionType classifies an interactive action rendered by a channel.
type ActionType string

const (
	ActionButton ActionType = "button"
	ActionLink   ActionType = "link"
)

// DeliveryErrorKind labels channel errors for metrics.
type DeliveryErrorKind string

const (
	ErrorKindTimeout     DeliveryErrorKind = "timeout"
	ErrorKindConfig      DeliveryErrorKind = "config"
	ErrorKindProvider    DeliveryErrorKind = "provider"
	ErrorKindUnavailable DeliveryErrorKind = "unavailable"
)

// Outcome labels used on webhook and notification counters.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeAccepted   = "accepted"
	OutcomeRejected   = "rejected"
	OutcomeRouted     = "routed"
	OutcomeRouteError = "route_error"
)

package types

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Validation constraint constants.
const (
	MaxNameLength      = 200
	MaxChannelsPerRule = 20
	MaxKeywords        = 50
	MaxDelayMs         = 5 * 60 * 1000
	MaxRetryAttempts   = 20
)

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// ValidateTimeWindow checks the clock strings and weekday list.
// The timezone is not resolved here; unknown zones fall back to UTC at
// evaluation time.
func ValidateTimeWindow(tw *TimeWindow) error {
	if tw == nil {
		return nil
	}
	if _, err := ParseClock(tw.Start); err != nil {
		return NewAppError(ErrCodeValidationInvalidTimeWindow, "start: "+err.Error(), err)
	}
	if _, err := ParseClock(tw.End); err != nil {
		return NewAppError(ErrCodeValidationInvalidTimeWindow, "end: "+err.Error(), err)
	}
	for _, d := range tw.Days {
		if d < 0 || d > 6 {
			return NewAppError(ErrCodeValidationInvalidTimeWindow,
				fmt.Sprintf("day %d outside 0..6", d), nil)
		}
	}
	return nil
}

// ValidateRule applies structural checks that do not depend on which channel
// adapters are installed.
func ValidateRule(r *RoutingRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return NewAppError(ErrCodeValidationMissingField, "name is required", nil)
	}
	if len(r.Name) > MaxNameLength {
		return NewAppError(ErrCodeValidationInvalidRule,
			fmt.Sprintf("name exceeds %d characters", MaxNameLength), nil)
	}
	if len(r.Channels) == 0 {
		return NewAppError(ErrCodeValidationMissingField, "at least one channel is required", nil)
	}
	if len(r.Channels) > MaxChannelsPerRule {
		return NewAppError(ErrCodeValidationInvalidRule,
			fmt.Sprintf("at most %d channels per rule", MaxChannelsPerRule), nil)
	}
	if !r.Conditions.Priority.IsValid() {
		return NewAppError(ErrCodeValidationInvalidRule,
			fmt.Sprintf("unknown priority %q", r.Conditions.Priority), nil)
	}
	if len(r.Conditions.Keywords) > MaxKeywords {
		return NewAppError(ErrCodeValidationInvalidRule,
			fmt.Sprintf("at most %d keywords", MaxKeywords), nil)
	}
	if err := ValidateTimeWindow(r.Conditions.TimeWindow); err != nil {
		return err
	}
	if r.Transform != nil && strings.TrimSpace(r.Transform.Template) == "" {
		return NewAppError(ErrCodeValidationInvalidRule, "transform.template is empty", nil)
	}
	for i, ch := range r.Channels {
		if !ch.Type.IsKnown() {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidChannel,
				fmt.Sprintf("unknown channel type %q", ch.Type), nil, map[string]any{"index": i})
		}
		if ch.DelayMs < 0 || ch.DelayMs > MaxDelayMs {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidChannel,
				fmt.Sprintf("delay must be within 0..%d ms", MaxDelayMs), nil, map[string]any{"index": i})
		}
		if p := ch.RetryPolicy; p != nil && (p.MaxAttempts < 1 || p.MaxAttempts > MaxRetryAttempts) {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidChannel,
				fmt.Sprintf("retryPolicy.maxAttempts must be within 1..%d", MaxRetryAttempts), nil, map[string]any{"index": i})
		}
	}
	return nil
}

// ValidateWebhookURL checks that a URL is usable for outbound delivery.
// SSRF checks happen at dial time, not here.
func ValidateWebhookURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%s: invalid URL", ErrCodeValidationInvalidChannel)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("%s: scheme must be http or https", ErrCodeValidationInvalidChannel)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s: missing host", ErrCodeValidationInvalidChannel)
	}
	return nil
}

// SSRFBlockedCIDRs defines the IP ranges that MUST be blocked for SSRF protection.
var SSRFBlockedCIDRs = []string{
	"127.0.0.0/8",    // Localhost
	"10.0.0.0/8",     // Private Class A
	"172.16.0.0/12",  // Private Class B
	"192.168.0.0/16", // Private Class C
	"169.254.0.0/16", // Link-local (cloud metadata)
	"0.0.0.0/8",      // Current network
	"224.0.0.0/4",    // Multicast
	"240.0.0.0/4",    // Reserved
	"100.64.0.0/10",  // Shared Address Space (CGN)
	"198.18.0.0/15",  // Benchmark testing
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}

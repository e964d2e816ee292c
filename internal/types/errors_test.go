package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidRule,
		Message: "name is required",
	}

	expected := "validation_invalid_rule: name is required"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to query rules", underlying)

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
	if !errors.Is(fmt.Errorf("handler: %w", appErr), underlying) {
		t.Error("errors.Is should find the underlying error through the chain")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundRule, "rule not found", nil)
	wrapped := fmt.Errorf("handler failed: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should extract *AppError from the chain")
	}
	if target.Code != ErrCodeNotFoundRule {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeNotFoundRule)
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(ErrCodeValidationInvalidChannel, "bad channel", nil, map[string]any{"index": 0})
	merged := original.WithDetails(map[string]any{"type": "fax"})

	if len(original.Details) != 1 {
		t.Errorf("original details mutated: %v", original.Details)
	}
	if merged.Details["index"] != 0 || merged.Details["type"] != "fax" {
		t.Errorf("merged details = %v", merged.Details)
	}
}

func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidRule, http.StatusBadRequest},
		{ErrCodeValidationInvalidTimeWindow, http.StatusBadRequest},
		{ErrCodeValidationPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeAuthAPIKeyMissing, http.StatusUnauthorized},
		{ErrCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundRule, http.StatusNotFound},
		{ErrCodeNotFoundNotification, http.StatusNotFound},
		{ErrCodeConflictRuleExists, http.StatusConflict},
		{ErrCodeUpstreamSMSProvider, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_new"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorKindOf(t *testing.T) {
	if got := ErrorKindOf(NewDeliveryError(ErrorKindTimeout, errors.New("deadline"))); got != ErrorKindTimeout {
		t.Errorf("ErrorKindOf(timeout) = %q", got)
	}
	wrapped := fmt.Errorf("send: %w", NewDeliveryError(ErrorKindConfig, errors.New("no url")))
	if got := ErrorKindOf(wrapped); got != ErrorKindConfig {
		t.Errorf("ErrorKindOf(wrapped config) = %q", got)
	}
	if got := ErrorKindOf(errors.New("boom")); got != ErrorKindProvider {
		t.Errorf("ErrorKindOf(plain) = %q, want provider", got)
	}
}

func TestAsRetryable(t *testing.T) {
	err := fmt.Errorf("process: %w", &RetryableError{Err: errors.New("503"), Delay: 2 * time.Second})

	re, ok := AsRetryable(err)
	if !ok {
		t.Fatal("AsRetryable should find the RetryableError")
	}
	if re.Delay != 2*time.Second {
		t.Errorf("Delay = %s, want 2s", re.Delay)
	}

	if _, ok := AsRetryable(errors.New("plain")); ok {
		t.Error("plain errors are not retryable")
	}
}

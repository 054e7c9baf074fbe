package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ValidationError reports a missing or malformed request field. It is always
// user-correctable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UnsupportedProviderError is returned when a request names a provider that is
// not in the allow-list for its modality.
type UnsupportedProviderError struct {
	Modality Modality
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported %s provider: %s", e.Modality, e.Provider)
}

// NotConfiguredError reports a missing base URL or credential that an operator
// has to provide.
type NotConfiguredError struct {
	Setting string
}

func (e *NotConfiguredError) Error() string {
	return e.Setting + " not configured"
}

// ProviderProtocolError means a provider answered with a payload that violates
// the expected contract (missing task id, missing result url, bad JSON).
type ProviderProtocolError struct {
	Provider string
	Detail   string
}

func (e *ProviderProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %s", e.Provider, e.Detail)
}

// ProviderTaskFailedError means the provider explicitly reported a failure
// status. Payload carries the full status document for diagnostics.
type ProviderTaskFailedError struct {
	Provider string
	TaskID   string
	Status   string
	Payload  map[string]any
}

func (e *ProviderTaskFailedError) Error() string {
	return fmt.Sprintf("%s task %s failed: %s", e.Provider, e.TaskID, formatPayload(e.Payload))
}

// ProviderTimeoutError means the polling budget ran out before the task
// reached a terminal status.
type ProviderTimeoutError struct {
	Provider string
	TaskID   string
	Polls    int
	Elapsed  time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("%s task %s timed out after %d polls (%s)", e.Provider, e.TaskID, e.Polls, e.Elapsed.Round(time.Millisecond))
}

// RemoteRequestError wraps a non-success HTTP status from any remote call.
type RemoteRequestError struct {
	URL        string
	StatusCode int
	BodyDigest string
}

func (e *RemoteRequestError) Error() string {
	if e.BodyDigest == "" {
		return fmt.Sprintf("remote request %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("remote request %s: status %d: %s", e.URL, e.StatusCode, e.BodyDigest)
}

// EmptyResultError means the provider reported success without a usable payload.
type EmptyResultError struct {
	Provider string
	Detail   string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
}

const maxBodyDigest = 512

// BodyDigest condenses a response body for error messages.
func BodyDigest(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxBodyDigest {
		text = text[:maxBodyDigest] + "..."
	}
	return text
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	var ve *ValidationError
	var ue *UnsupportedProviderError
	return errors.As(err, &ve) || errors.As(err, &ue)
}

// HTTPStatus classifies err into the status code the gateway responds with.
func HTTPStatus(err error) int {
	var (
		notConfigured *NotConfiguredError
		protocol      *ProviderProtocolError
		taskFailed    *ProviderTaskFailedError
		timeout       *ProviderTimeoutError
		remote        *RemoteRequestError
		empty         *EmptyResultError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case IsClientError(err):
		return http.StatusBadRequest
	case errors.As(err, &notConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &protocol), errors.As(err, &taskFailed), errors.As(err, &remote), errors.As(err, &empty):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(raw)
}

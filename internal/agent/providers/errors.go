package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason classifies why a provider request failed. The router uses it
// to decide whether the single alternate-shape retry applies.
type FailoverReason string

const (
	// FailoverParamIncompatible means the endpoint rejected one request shape,
	// e.g. max_tokens on a model that only accepts max_completion_tokens.
	FailoverParamIncompatible FailoverReason = "param_incompatible"

	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverMalformed        FailoverReason = "malformed_response"
	FailoverUnknown          FailoverReason = "unknown"
)

// RetriesWithAlternateShape reports whether the reason earns one retry with
// the other request shape. Auth, billing and quota never do.
func (r FailoverReason) RetriesWithAlternateShape() bool {
	return r == FailoverParamIncompatible
}

// ProviderError is a model transport error with its classification.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Param     string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Param != "" {
		parts = append(parts, fmt.Sprintf("param=%s", e.Param))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause, classifying it from its message.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailoverUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status. A more specific reason already derived
// from the message is kept for 400s, where the message says more than the code.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	reason := classifyStatusCode(status)
	if reason == FailoverInvalidRequest && e.Reason != FailoverUnknown {
		return e
	}
	if reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a vendor error code and reclassifies when the code is known.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithParam records the offending request parameter.
func (e *ProviderError) WithParam(param string) *ProviderError {
	e.Param = param
	if e.Reason == FailoverInvalidRequest && isShapeParam(param) {
		e.Reason = FailoverParamIncompatible
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

func isShapeParam(param string) bool {
	switch strings.ToLower(param) {
	case "max_tokens", "max_completion_tokens", "temperature", "top_p", "max_output_tokens":
		return true
	}
	return false
}

// ClassifyError derives a FailoverReason from an error message.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "unsupported_parameter") ||
		strings.Contains(errStr, "unsupported parameter") ||
		strings.Contains(errStr, "unsupported_value") ||
		strings.Contains(errStr, "unsupported value") ||
		strings.Contains(errStr, "use 'max_completion_tokens'") ||
		strings.Contains(errStr, "please use maxcompletiontokens") ||
		(strings.Contains(errStr, "max_tokens") && strings.Contains(errStr, "not supported")) ||
		(strings.Contains(errStr, "temperature") && strings.Contains(errStr, "does not support")) {
		return FailoverParamIncompatible
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "etimedout") {
		return FailoverTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return FailoverRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return FailoverAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402") {
		return FailoverBilling
	}

	if strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "safety") {
		return FailoverContentFilter
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") {
		return FailoverModelUnavailable
	}

	if strings.Contains(errStr, "unexpected end of json") ||
		strings.Contains(errStr, "invalid character") ||
		strings.Contains(errStr, "malformed") {
		return FailoverMalformed
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return FailoverServerError
	}

	return FailoverUnknown
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "unsupported_parameter", "unsupported_value":
		return FailoverParamIncompatible
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available", "not_found_error":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error", "api_error", "overloaded_error":
		return FailoverServerError
	case "invalid_request_error":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// ReasonOf returns the classification of err, typed or not.
func ReasonOf(err error) FailoverReason {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason
	}
	return ClassifyError(err)
}

// IsParamIncompatible reports whether err earns the alternate-shape retry.
func IsParamIncompatible(err error) bool {
	return ReasonOf(err).RetriesWithAlternateShape()
}

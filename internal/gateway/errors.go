package gateway

import "net/http"

// Reason identifies why authentication failed. Values are wire-stable:
// they appear verbatim in the JSON error field.
type Reason string

const (
	ReasonMissingCredential Reason = "missing_credential"
	ReasonInvalidCredential Reason = "invalid_credential"
	ReasonDisabled          Reason = "disabled"
	ReasonExpired           Reason = "expired"
	ReasonRateLimited       Reason = "rate_limited"
)

// AuthError is a typed gate failure. It never carries key material.
type AuthError struct {
	Reason Reason
	// RetryAfterSeconds is set only for ReasonRateLimited.
	RetryAfterSeconds int
}

func (e *AuthError) Error() string {
	return string(e.Reason)
}

// Message is the user-facing explanation: deterministic, documented, and
// deliberately free of lookup details.
func (e *AuthError) Message() string {
	switch e.Reason {
	case ReasonMissingCredential:
		return "no API key provided"
	case ReasonInvalidCredential:
		return "invalid API key"
	case ReasonDisabled:
		return "API key is disabled"
	case ReasonExpired:
		return "API key has expired"
	case ReasonRateLimited:
		return "rate limit exceeded"
	default:
		return "unauthorized"
	}
}

// HTTPStatus maps the failure to its response code.
func (e *AuthError) HTTPStatus() int {
	if e.Reason == ReasonRateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

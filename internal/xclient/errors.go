package xclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotAuthenticated is returned by Connect when neither cookies nor a
// saved session are available.
var ErrNotAuthenticated = errors.New("x client: no credentials (set x.auth_token and x.ct0)")

// ErrUserUnavailable marks suspended, restricted or unknown accounts.
var ErrUserUnavailable error = unavailableError{}

type unavailableError struct{}

func (unavailableError) Error() string { return "user unavailable" }

// Hard marks the account as not worth retrying.
func (unavailableError) Hard() bool { return true }

// StatusError is a non-200 reply from the upstream API. Body is kept for
// logging and stays out of the message.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.Operation, e.Code, http.StatusText(e.Code))
}

// RateLimited reports whether the upstream asked us to slow down.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

// Temporary reports server-side failures worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500
}

// Hard reports client errors other than 429.
func (e *StatusError) Hard() bool {
	return e.Code >= 400 && e.Code < 500 && !e.RateLimited()
}

// APIError is a GraphQL error carried in a 200 response.
type APIError struct {
	Operation string
	Code      int
	Message   string
}

// RateLimited reports GraphQL code 88.
func (e *APIError) RateLimited() bool { return e.Code == codeRateLimit }

// Temporary reports the internal error code 131.
func (e *APIError) Temporary() bool { return e.Code == codeInternal }

// Hard reports every other API error, expired sessions included.
func (e *APIError) Hard() bool { return !e.RateLimited() && !e.Temporary() }

func (e *APIError) Error() string {
	if e.Code == codeRateLimit {
		return fmt.Sprintf("%s: rate limit exceeded (code %d)", e.Operation, e.Code)
	}
	return fmt.Sprintf("%s: api error %d: %s", e.Operation, e.Code, e.Message)
}

const (
	codeAuthExpired = 32
	codeRateLimit   = 88
	codeInternal    = 131
)

// apiError extracts the first GraphQL error from a body. Code 131 is
// ignored when the response still carries data.
func apiError(operation string, body []byte) *APIError {
	var probe struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &probe) != nil || len(probe.Errors) == 0 {
		return nil
	}
	hasData := len(probe.Data) > 0 && string(probe.Data) != "null" && string(probe.Data) != "{}"
	for _, e := range probe.Errors {
		if e.Code == codeInternal && hasData {
			continue
		}
		if e.Code == 0 && hasData {
			continue
		}
		return &APIError{Operation: operation, Code: e.Code, Message: e.Message}
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

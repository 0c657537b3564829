package client

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a non-2xx API response
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("memechat: %d %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports a missing, invalid or revoked session, or a failed wallet proof
func (e *Error) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsForbidden reports a permission error
func (e *Error) IsForbidden() bool { return e.StatusCode == http.StatusForbidden }

// IsNotFound reports a missing resource
func (e *Error) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsConflict reports a state conflict, e.g. a wallet already linked elsewhere
func (e *Error) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// IsRateLimited reports a 429
func (e *Error) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func parseError(statusCode int, body []byte) error {
	apiErr := &Error{StatusCode: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

package twitter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Twitter API error codes the worker reacts to.
// https://developer.twitter.com/en/support/twitter-api/error-troubleshooting
const (
	CodePageNotFound    = 34
	CodeUserNotFound    = 50
	CodeUserSuspended   = 63
	CodeRateLimited     = 88
	CodeNoUserMatches   = 108
	CodeFollowLimit     = 161
	CodeAlreadyFollowed = 160
)

// ErrorItem is one entry of the "errors" array of an API response.
type ErrorItem struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is returned for any non-2xx answer of the API.
type APIError struct {
	StatusCode int
	Errors     []ErrorItem
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("twitter api: unexpected status code %d: %s", e.StatusCode, e.Body)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d %s", item.Code, item.Message))
	}
	return fmt.Sprintf("twitter api: status %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

// HasCode reports whether the response carried the given error code.
func (e *APIError) HasCode(code int) bool {
	for _, item := range e.Errors {
		if item.Code == code {
			return true
		}
	}
	return false
}

// IsTargetGone reports whether the error says the target account no longer
// exists or cannot be acted on any more.
func (e *APIError) IsTargetGone() bool {
	return e.HasCode(CodePageNotFound) || e.HasCode(CodeUserNotFound) ||
		e.HasCode(CodeUserSuspended) || e.HasCode(CodeNoUserMatches)
}

// IsRateLimited reports whether the API refused the call because of its own rate limit.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.HasCode(CodeRateLimited)
}

// IsTargetGone reports whether err is an API error for an account that no longer exists.
func IsTargetGone(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsTargetGone()
}

// IsRateLimited reports whether err is an API rate limit error.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimited()
}

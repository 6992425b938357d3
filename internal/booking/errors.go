// ABOUTME: User-facing rendering of flow errors
// ABOUTME: Maps auth sentinels and backend HTTP statuses to fixed sanitized messages

package booking

import (
	"context"
	"errors"
	"net/http"

	"github.com/2389/garage-assistant/internal/auth"
	"github.com/2389/garage-assistant/internal/backend"
)

// Fixed user messages
const (
	MsgLoginRequired  = "You are not logged in. Log in with `login <email> <password>` and try again."
	MsgLoginExpired   = "Your login has expired. Log in again with `login <email> <password>`."
	MsgUnauthorized   = "The garage service did not accept your login. Please log in again."
	MsgForbidden      = "You are not allowed to do that."
	MsgNotFound       = "The requested item no longer exists."
	MsgServerError    = "The garage service is having trouble right now. Please try again later."
	MsgTimeout        = "The garage service did not answer in time. Please try again later."
	MsgAccountChanged = "You logged in with a different account during the booking. Please start again."
	msgGenericPrefix  = "Something went wrong: "
)

// UserMessage renders err for the chat user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrUnauthenticated):
		return MsgLoginRequired
	case errors.Is(err, auth.ErrTokenExpired):
		return MsgLoginExpired
	case errors.Is(err, ErrAccountChanged):
		return MsgAccountChanged
	}

	switch code := backend.StatusCode(err); {
	case code == http.StatusUnauthorized:
		return MsgUnauthorized
	case code == http.StatusForbidden:
		return MsgForbidden
	case code == http.StatusNotFound:
		return MsgNotFound
	case code >= 500:
		return MsgServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	return msgGenericPrefix + err.Error()
}

// isAuthFailure reports errors that mean the user must log in again.
func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrTokenExpired)
}

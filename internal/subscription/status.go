package subscription

import (
	"fmt"

	"market-stream/internal/wire"
)

// Status codes sent in "status" messages.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Error codes that change how the client reacts.
const (
	ErrorInvalidClock        = "INVALID_CLOCK"
	ErrorNoAppKey            = "NO_APP_KEY"
	ErrorInvalidAppKey       = "INVALID_APP_KEY"
	ErrorNoSession           = "NO_SESSION"
	ErrorInvalidSession      = "INVALID_SESSION_INFORMATION"
	ErrorNotAuthorized       = "NOT_AUTHORIZED"
	ErrorSubscriptionLimit   = "SUBSCRIPTION_LIMIT_EXCEEDED"
	ErrorMaxConnectionLimit  = "MAX_CONNECTION_LIMIT_EXCEEDED"
	ErrorTooManyRequests     = "TOO_MANY_REQUESTS"
	ErrorTimeout             = "TIMEOUT"
	ErrorUnexpected          = "UNEXPECTED_ERROR"
	ErrorConnectionFailed    = "CONNECTION_FAILED"
	ErrorInvalidInput        = "INVALID_INPUT"
	ErrorInvalidRequest      = "INVALID_REQUEST"
	ErrorInvalidTopicRequest = "INVALID_TOPIC_REQUEST"
)

// StatusError is a failure reported by the server for a request.
type StatusError struct {
	ID               int64
	Code             string
	Message          string
	ConnectionClosed bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stream status %s (id %d)", e.Code, e.ID)
	}
	return fmt.Sprintf("stream status %s (id %d): %s", e.Code, e.ID, e.Message)
}

// InvalidClock means the resume clock was rejected; subscribe fresh.
func (e *StatusError) InvalidClock() bool { return e.Code == ErrorInvalidClock }

// Auth reports credential failures that retrying with the same token will
// not fix.
func (e *StatusError) Auth() bool {
	switch e.Code {
	case ErrorNoAppKey, ErrorInvalidAppKey, ErrorNoSession, ErrorInvalidSession, ErrorNotAuthorized:
		return true
	}
	return false
}

// CheckStatus returns a *StatusError for a failed status message and nil for
// anything else.
func CheckStatus(msg *wire.ChangeMessage) error {
	if msg == nil || msg.Op != wire.OpStatus || msg.StatusCode != StatusFailure {
		return nil
	}
	return &StatusError{
		ID:               msg.ID.Value,
		Code:             msg.ErrorCode,
		Message:          msg.ErrorMessage,
		ConnectionClosed: msg.ConnectionClosed.Value,
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"student-assistant/internal/integrations/api"
)

// ErrorCode is the reportable reason attached to a failed operation. The
// caller picks the UI treatment, e.g. prompting for login on
// ErrorUnauthenticated.
type ErrorCode string

const (
	ErrorValidation       ErrorCode = "ValidationError"
	ErrorUnauthenticated  ErrorCode = "Unauthenticated"
	ErrorServer           ErrorCode = "ServerError"
	ErrorTransport        ErrorCode = "TransportError"
	ErrorUnknown          ErrorCode = "UnknownError"
	ErrorConversationBusy ErrorCode = "ConversationBusy"
	ErrorStorage          ErrorCode = "StorageError"
)

// Retryable reports whether suggesting a retry to the user makes sense.
func (c ErrorCode) Retryable() bool {
	return c == ErrorServer || c == ErrorTransport || c == ErrorConversationBusy
}

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message is the user-facing text for the failure.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrorUnauthenticated:
		return "Session expired. Please log in again."
	case ErrorServer:
		return "Server error. Please try again later."
	}
	if detail := api.Detail(e.Err); detail != "" {
		return detail
	}
	switch e.Code {
	case ErrorValidation:
		return "Message cannot be empty"
	case ErrorTransport:
		return "Could not reach the assistant. Check your connection and try again."
	case ErrorConversationBusy:
		return "Please wait for the current reply."
	case ErrorStorage:
		return "The reply could not be saved. Please try again."
	default:
		return "Failed to get response from chatbot"
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorUnknown
}

// classifyRemote maps a chat transport error onto the failure taxonomy.
func classifyRemote(err error) *Error {
	var statusErr *api.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized:
			return newError(ErrorUnauthenticated, "chat_unauthorized", err)
		case statusErr.StatusCode >= 500:
			return newError(ErrorServer, "chat_server_error", err)
		default:
			return newError(ErrorUnknown, "chat_unexpected_status", err)
		}
	}
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(ErrorTransport, "chat_transport_error", err)
	}
	return newError(ErrorUnknown, "chat_malformed_response", err)
}

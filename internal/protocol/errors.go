package protocol

import "fmt"

// ErrorCode is the machine-readable code carried by error messages.
type ErrorCode string

// Error codes
const (
	ErrorCodeNoContext          ErrorCode = "NO_CONTEXT"
	ErrorCodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	ErrorCodeInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrorCodeBackendError       ErrorCode = "BACKEND_ERROR"
	ErrorCodeQueryBlocked       ErrorCode = "QUERY_BLOCKED"
)

// Error is a per-message failure that is reported to the client as an
// error message. It never terminates the connection.
type Error struct {
	Code    ErrorCode
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Payload renders the error as a wire payload.
func (e *Error) Payload() ErrorPayload {
	return ErrorPayload{Code: e.Code, Message: e.Message, Details: e.Details}
}

// NewError creates a protocol error without an underlying cause.
func NewError(code ErrorCode, message string, details any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// InvalidMessage reports a frame or payload that failed to decode or validate.
func InvalidMessage(err error) *Error {
	return &Error{
		Code:    ErrorCodeInvalidMessage,
		Message: "Failed to process message",
		Details: err.Error(),
		Err:     err,
	}
}

// NoContext reports a query or context_update before init.
func NoContext() *Error {
	return NewError(ErrorCodeNoContext, "No active context found. Please initialize first.", nil)
}

// UnknownMessageType reports a kind the server does not accept from clients.
func UnknownMessageType(kind Kind) *Error {
	return NewError(ErrorCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", kind), nil)
}

// BackendFailure reports a model backend error or timeout.
func BackendFailure(message string, err error) *Error {
	return &Error{
		Code:    ErrorCodeBackendError,
		Message: message,
		Details: err.Error(),
		Err:     err,
	}
}

// QueryBlocked reports a query rejected by the query policy.
func QueryBlocked(reason string) *Error {
	var details any
	if reason != "" {
		details = reason
	}
	return NewError(ErrorCodeQueryBlocked, "Query rejected by policy", details)
}

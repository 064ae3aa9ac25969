package core

import "errors"

type Error struct {
	msg string
	// Sensitive marks errors that must not be returned to the client.
	Sensitive bool
}

func NewError(msg string, sensitive bool) *Error {
	return &Error{msg: msg, Sensitive: sensitive}
}

func NewSensitiveError(msg string) *Error {
	return &Error{msg: msg, Sensitive: true}
}

func NewInsensitiveError(msg string) *Error {
	return &Error{msg: msg, Sensitive: false}
}

func (e *Error) Error() string {
	return e.msg
}

// InternalErrorMessage is what clients see for errors that are not safe to expose.
const InternalErrorMessage = "internal error"

// clientErrors can be returned to clients as they are.
var clientErrors = []error{
	ErrInvalidUser,
	ErrInvalidRoom,
	ErrNotParticipant,
	ErrInvalidMessage,
	ErrEmptyMessage,
	ErrMissingAttachment,
	ErrMessageNotFound,
	ErrNotSender,
	ErrWindowExpired,
	ErrInvalidScope,
	ErrNotJoined,
	ErrJoinFieldsRequired,
	ErrInvalidPage,
	ErrDisAllowedOperation,
	ErrUnauthorized,
	ErrUnauthenticated,
	ErrRateLimited,
	ErrUnknownEvent,
}

// ClientMessage returns the text of err that is safe to send to a client.
// Wrapped client errors lose their wrapping context.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && !e.Sensitive {
		return e.msg
	}
	for _, ce := range clientErrors {
		if errors.Is(err, ce) {
			return ce.Error()
		}
	}
	return InternalErrorMessage
}

// IsClientError reports whether err carries a message meant for the client.
func IsClientError(err error) bool {
	return ClientMessage(err) != InternalErrorMessage
}

package protocol

import (
	"errors"
	"fmt"
)

// Stable wire codes for per-event rejections.
const (
	CodeAuthentication    = "authentication_error"
	CodeProtocol          = "protocol_error"
	CodeValidation        = "validation_error"
	CodeForbidden         = "forbidden"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
)

// AuthenticationError means the identity claim was absent or invalid; the
// connection is refused before the websocket upgrade.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ProtocolError means a frame could not be parsed into a known event. The
// frame is dropped and logged; the connection survives.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// InvalidTransitionError reports an illegal meeting state change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// CodeOf maps a per-event error onto its wire code.
func CodeOf(err error) string {
	var (
		authErr       *AuthenticationError
		protoErr      *ProtocolError
		validationErr *ValidationError
		forbiddenErr  *ForbiddenError
		transitionErr *InvalidTransitionError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &authErr):
		return CodeAuthentication
	case errors.As(err, &protoErr):
		return CodeProtocol
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.As(err, &forbiddenErr):
		return CodeForbidden
	case errors.As(err, &transitionErr):
		return CodeInvalidTransition
	case errors.As(err, &notFoundErr):
		return CodeNotFound
	}
	return CodeInternal
}

// Reject builds the error frame returned to the originating session. Per-event
// errors are never broadcast.
func Reject(err error, ref string) *ErrorFrame {
	return &ErrorFrame{
		Envelope: Envelope{Type: TypeError},
		Code:     CodeOf(err),
		Message:  err.Error(),
		Ref:      ref,
	}
}

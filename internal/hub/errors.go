package hub

import (
	"errors"

	"chat-hub/internal/models"
)

var (
	// ErrDuplicateConnection is returned when a connection ID is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrNotFound is returned when unregistering a connection the registry does not know.
	ErrNotFound = errors.New("connection not found")
	// ErrUnknownConnection is returned by room operations on an unregistered connection.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrUnauthorized means the user is not a participant of the conversation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation marks malformed or empty payloads.
	ErrValidation = errors.New("validation error")
	// ErrStorageFailure wraps failures of the storage collaborator.
	ErrStorageFailure = errors.New("storage failure")
	// ErrClosed is returned by Connect once the dispatcher is shutting down.
	ErrClosed = errors.New("hub closed")
	// ErrUnknownEvent is returned for an event tag without a handler.
	ErrUnknownEvent = errors.New("unknown event")
)

// ValidationError carries the text shown to the requester.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// clientMessage maps an outcome to the text sent back in an error event.
// The second result is false for outcomes the requester is not told about.
func clientMessage(event models.EventType, err error) (string, bool) {
	var verr *ValidationError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &verr):
		return verr.Reason, true
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized", true
	case errors.Is(err, ErrStorageFailure):
		if event == models.EventSendMessage {
			return "Message could not be delivered", true
		}
		return "Request could not be completed", true
	case errors.Is(err, ErrUnknownEvent):
		return "unknown event", true
	case errors.Is(err, ErrUnknownConnection), errors.Is(err, ErrNotFound):
		return "", false
	default:
		return "Internal error", true
	}
}

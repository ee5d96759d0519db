package chat

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the Service. Each returned error wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

// Store signals. Adapters translate driver errors into these; they never leave the Service.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate key")
)

func validationError(msg string) error { return fmt.Errorf("%w: %s", ErrValidation, msg) }
func notFoundError(msg string) error   { return fmt.Errorf("%w: %s", ErrNotFound, msg) }
func conflictError(msg string) error   { return fmt.Errorf("%w: %s", ErrConflict, msg) }
func forbiddenError(msg string) error  { return fmt.Errorf("%w: %s", ErrForbidden, msg) }

var (
	errConversationNotFound = notFoundError("conversation not found")
	errMessageNotFound      = notFoundError("message not found")
	errNoAccess             = forbiddenError("you do not have access to this conversation")
	errNotParticipant       = forbiddenError("you are not a participant of this conversation")
)

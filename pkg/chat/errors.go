package chat

import (
	"errors"
	"fmt"

	"eventsnap/pkg/tree"
)

// Expected failure modes are sentinel values so callers can branch with
// errors.Is instead of matching strings. Only ErrTransport represents a
// genuinely unexpected condition.
var (
	// ErrValidation: empty or oversized content, malformed image
	// reference. Raised before any write; nothing is partially applied.
	ErrValidation = errors.New("chat: validation failed")
	// ErrPermission: operation attempted by a user who is not allowed to
	// perform it (e.g. deleting someone else's message).
	ErrPermission = errors.New("chat: permission denied")
	// ErrNotFound: message or conversation does not exist.
	ErrNotFound = errors.New("chat: not found")
	// ErrTransport wraps any underlying tree failure. The core performs
	// no automatic retry; that policy belongs to the caller.
	ErrTransport = errors.New("chat: transport failure")
)

// wrapTree converts a tree error into the chat taxonomy: absent nodes
// become ErrNotFound, everything else is a transport failure.
func wrapTree(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tree.ErrNoNode) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

package core

import (
	"errors"
	"fmt"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStopped              = errors.New("orchestrator stopped")
	ErrGenerationDisabled   = errors.New("context generation is disabled")
)

// ExtractionError excludes one conversation from the current cycle.
type ExtractionError struct {
	ConversationID string
	Err            error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract conversation %q: %v", e.ConversationID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CacheCapacityError means the result cache held more entries than allowed.
type CacheCapacityError struct {
	Size     int
	Capacity int
}

func (e *CacheCapacityError) Error() string {
	return fmt.Sprintf("result cache holds %d entries, capacity is %d", e.Size, e.Capacity)
}

// WatchError reports a failure of the change-notification mechanism.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch conversations: %v", e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// PublishError is returned once every publish attempt has failed.
type PublishError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

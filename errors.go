package lattix

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound reports a missing conversation or repository.
var ErrNotFound = errors.New("not found")

// ErrConversationClosed reports an append to a closed conversation.
var ErrConversationClosed = errors.New("conversation is closed")

// ErrQueueFull reports a saturated background worker pool.
var ErrQueueFull = errors.New("worker queue is full")

// ErrHTTP is a transport-level failure from a model provider or collaborator.
// Status 429 and 503 are treated as transient by the retry wrapper.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrModel is a provider-level failure (marshalling, decoding, refusal).
type ErrModel struct {
	Provider string
	Message  string
}

func (e *ErrModel) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrValidation rejects user input. The message is safe to surface.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrIndexing is a terminal indexing failure. The Reason names what went
// wrong in a form suitable for the user-facing Error event.
type ErrIndexing struct {
	RepoURL string
	Reason  string
}

func (e *ErrIndexing) Error() string {
	return fmt.Sprintf("indexing %s failed: %s", e.RepoURL, e.Reason)
}

// ParseRetryAfter parses an HTTP Retry-After header value given in seconds.
// Returns 0 for empty or unparseable values (HTTP-date form is not used by
// the providers we talk to).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

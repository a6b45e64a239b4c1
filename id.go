package lattix

import "github.com/google/uuid"

// NewID returns a new random identifier for conversations, messages,
// repositories, and graph entities.
func NewID() string {
	return uuid.NewString()
}

package lattix

// EventType identifies the kind of chat event pushed to a subscriber.
type EventType string

const (
	// EventConnected is sent once when a subscriber attaches to a stream.
	EventConnected EventType = "connected"
	// EventThinking carries a progress note (analysis, indexing steps).
	EventThinking EventType = "thinking"
	// EventTool signals a tool transition (executing, completed, failed).
	EventTool EventType = "tool"
	// EventPartial carries a fragment of the final answer.
	EventPartial EventType = "partial"
	// EventComplete carries the final answer. Last event for a message.
	EventComplete EventType = "complete"
	// EventError carries a terminal error message. Last event for a message.
	EventError EventType = "error"
)

// ChatEvent is a tagged union pushed through the stream hub. Events are
// advisory: definitive state lives in the Conversation. ConversationID is
// always set so clients can multiplex.
type ChatEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	// Content carries the thinking note (thinking), the answer fragment
	// (partial), the final answer (complete), or the error message (error).
	Content string `json:"content,omitempty"`
	// Tool and Status are set for tool events only.
	Tool   string `json:"tool,omitempty"`
	Status string `json:"status,omitempty"`
	// Percent is set on indexing-progress thinking events.
	Percent int `json:"percent,omitempty"`
}

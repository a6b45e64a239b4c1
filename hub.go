package lattix

import (
	"log/slog"
	"sync"
)

// streamBuffer is the per-conversation channel capacity. When a subscriber
// stops draining and the buffer fills, further events are dropped (not
// blocked on): events are advisory, definitive state is the Conversation.
const streamBuffer = 64

// StreamHub is a keyed collection of push channels, one per conversation.
// At most one subscriber per conversation: a new Subscribe for the same id
// closes the previous channel. Sends with no subscriber are dropped.
// Safe for concurrent use.
type StreamHub struct {
	mu      sync.Mutex
	streams map[string]chan ChatEvent
	closed  bool
	logger  *slog.Logger
}

// HubOption configures a StreamHub.
type HubOption func(*StreamHub)

// HubLogger sets the structured logger for dropped-event diagnostics.
func HubLogger(l *slog.Logger) HubOption {
	return func(h *StreamHub) { h.logger = l }
}

// NewStreamHub creates an empty hub.
func NewStreamHub(opts ...HubOption) *StreamHub {
	h := &StreamHub{streams: make(map[string]chan ChatEvent)}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = nopLogger
	}
	return h
}

// Subscribe attaches the single subscriber for a conversation and returns
// its event channel. Any previous subscriber's channel is closed. The first
// event on the channel is Connected.
func (h *StreamHub) Subscribe(conversationID string) <-chan ChatEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan ChatEvent)
		close(ch)
		return ch
	}
	if prev, ok := h.streams[conversationID]; ok {
		close(prev)
	}
	ch := make(chan ChatEvent, streamBuffer)
	h.streams[conversationID] = ch
	ch <- ChatEvent{Type: EventConnected, ConversationID: conversationID}
	return ch
}

// Unsubscribe closes and removes the conversation's channel if the given
// channel is still the active one. A stale unsubscribe (the client was
// already replaced by a newer Subscribe) is a no-op.
func (h *StreamHub) Unsubscribe(conversationID string, ch <-chan ChatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.streams[conversationID]; ok && cur == ch {
		close(cur)
		delete(h.streams, conversationID)
	}
}

// HasActiveStream reports whether a subscriber is attached. Test helper,
// also surfaced by the status endpoint.
func (h *StreamHub) HasActiveStream(conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[conversationID]
	return ok
}

// Send pushes an event to the conversation's subscriber. Without a
// subscriber, or when the subscriber's buffer is full, the event is dropped.
func (h *StreamHub) Send(ev ChatEvent) {
	h.mu.Lock()
	ch, ok := h.streams[ev.ConversationID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		h.logger.Debug("stream buffer full, event dropped",
			"conversation", ev.ConversationID, "type", ev.Type)
	}
}

// SendThinking pushes a progress note.
func (h *StreamHub) SendThinking(conversationID, note string) {
	h.Send(ChatEvent{Type: EventThinking, ConversationID: conversationID, Content: note})
}

// SendIndexing pushes an indexing-progress note with percent complete.
func (h *StreamHub) SendIndexing(conversationID, step string, percent int) {
	h.Send(ChatEvent{Type: EventThinking, ConversationID: conversationID, Content: step, Percent: percent})
}

// SendTool pushes a tool transition.
func (h *StreamHub) SendTool(conversationID, tool, status string) {
	h.Send(ChatEvent{Type: EventTool, ConversationID: conversationID, Tool: tool, Status: status})
}

// SendPartial pushes a fragment of the final answer.
func (h *StreamHub) SendPartial(conversationID, fragment string) {
	h.Send(ChatEvent{Type: EventPartial, ConversationID: conversationID, Content: fragment})
}

// SendComplete pushes the final answer.
func (h *StreamHub) SendComplete(conversationID, content string) {
	h.Send(ChatEvent{Type: EventComplete, ConversationID: conversationID, Content: content})
}

// SendError pushes a terminal error.
func (h *StreamHub) SendError(conversationID, message string) {
	h.Send(ChatEvent{Type: EventError, ConversationID: conversationID, Content: message})
}

// Drain closes every channel and rejects further subscriptions.
// Called once during shutdown, after the request façade stops accepting
// traffic and before the worker pool is awaited.
func (h *StreamHub) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.streams {
		close(ch)
		delete(h.streams, id)
	}
}

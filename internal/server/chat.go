package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/lattixhq/lattix"
	"github.com/lattixhq/lattix/render"
)

type chatRequest struct {
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	RepoURL        string            `json:"repo_url,omitempty"`
	Branch         string            `json:"branch,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type chatResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

// handleChat accepts a user message, creating the conversation when needed,
// and schedules the agent loop on the background pool. The response is a
// 202-style acknowledgement; the answer arrives on the event stream and in
// history.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	var conv lattix.Conversation
	var err error
	if req.ConversationID == "" {
		conv, err = s.createConversation(r.Context(), req)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
	} else {
		conv, err = s.convos.Get(r.Context(), req.ConversationID)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
	}

	message := req.Message
	convID := conv.ID
	if err := s.dispatcher.Submit(convID, func(ctx context.Context) {
		s.agent.Process(ctx, convID, message)
	}); err != nil {
		if errors.Is(err, lattix.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "server is at capacity, try again shortly")
			return
		}
		s.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, chatResponse{
		Success:        true,
		ConversationID: convID,
		Response:       "Processing…",
	})
}

// createConversation validates the repository inputs and persists a new
// conversation. No clone or index happens here; the lifecycle gate does
// that lazily when the first code tool runs.
func (s *Server) createConversation(ctx context.Context, req chatRequest) (lattix.Conversation, error) {
	if req.RepoURL == "" {
		return lattix.Conversation{}, &lattix.ErrValidation{Field: "repo_url", Reason: "required for a new conversation"}
	}
	if err := lattix.ValidateRepoURL(req.RepoURL); err != nil {
		return lattix.Conversation{}, err
	}
	branch := req.Branch
	if branch == "" {
		branch = lattix.BranchFromURL(req.RepoURL, s.branch)
	}
	if err := lattix.ValidateBranch(branch); err != nil {
		return lattix.Conversation{}, err
	}

	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}
	return s.convos.Create(ctx, userID, req.RepoURL, branch,
		lattix.ParseMode(req.Mode), s.git.ExtractRepoName(req.RepoURL))
}

type historyMessage struct {
	Role      lattix.Role `json:"role"`
	Content   string      `json:"content"`
	HTML      string      `json:"html,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleHistory returns the ordered messages of a conversation. With
// format=html, assistant messages additionally carry rendered HTML.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convos.GetWithMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	asHTML := r.URL.Query().Get("format") == "html"
	messages := make([]historyMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		hm := historyMessage{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt.UnixMilli()}
		if asHTML && m.Role == lattix.RoleAssistant {
			if html, err := render.Markdown(m.Content); err == nil {
				hm.HTML = html
			}
		}
		messages = append(messages, hm)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        messages,
	})
}

// handleStatus reports the conversation's lifecycle state and whether a
// stream is attached.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convos.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	status := "ACTIVE"
	if !conv.Active {
		status = "CLOSED"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id":   conv.ID,
		"status":            status,
		"mode":              conv.Mode,
		"repo_url":          conv.RepoURL,
		"repo_name":         conv.RepoName,
		"has_active_stream": s.hub.HasActiveStream(conv.ID),
	})
}

// handleClose marks the conversation closed. An in-flight worker is not
// cancelled; its final events are dropped once the subscriber goes away.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.convos.Close(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations returns summaries of a user's open conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	convs, err := s.convos.ListActive(r.Context(), userID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	summaries := make([]map[string]any, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, map[string]any{
			"conversation_id": c.ID,
			"repo_url":        c.RepoURL,
			"repo_name":       c.RepoName,
			"mode":            c.Mode,
			"last_activity":   c.LastActivity.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

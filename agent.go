package lattix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxIterations is the hard cap of the selection-execution cycle.
const DefaultMaxIterations = 10

// Prompt construction limits. The selector is cheap and fast, so its
// prompts stay small; the synthesizer sees more history.
const (
	initialHistoryMsgs    = 5
	initialHistoryRunes   = 200
	followupHistoryRunes  = 150
	followupDataRunes     = 5000
	synthesisHistoryMsgs  = 10
	synthesisHistoryRunes = 500
)

// alternativeSeparator and alternativeHeading format augmented results.
const (
	alternativeSeparator = "\n\n--- ALTERNATIVE PERSPECTIVES ---\n"
	alternativeHeading   = "\n### From %s:\n"
)

// modePreambles shape the synthesis prompt per conversation mode.
var modePreambles = map[Mode]string{
	ModeExplore:   "You are a code assistant helping a developer explore and understand a codebase.",
	ModeDebug:     "You are a code assistant helping a developer track down a defect. Focus on causal chains and concrete evidence from the code.",
	ModeImplement: "You are a code assistant helping a developer plan and write a change. Be concrete about files, types, and call sites.",
	ModeReview:    "You are a code assistant reviewing code. Weigh correctness, clarity, and consistency with the surrounding code.",
}

// Agent is the bounded tool-selection ↔ tool-execution controller. It is a
// plain function object: one Run per user message, strictly sequential
// inside; concurrency lives across conversations in the dispatcher.
type Agent struct {
	registry    *Registry
	chain       *InterceptorChain
	selector    ModelProvider
	synthesizer ModelProvider
	convos      *Conversations
	hub         *StreamHub
	maxIter     int
	logger      *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// AgentMaxIterations overrides the selection-execution cap (default 10).
func AgentMaxIterations(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxIter = n
		}
	}
}

// AgentLogger sets the structured logger.
func AgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent wires the loop to its collaborators.
func NewAgent(registry *Registry, chain *InterceptorChain, selector, synthesizer ModelProvider, convos *Conversations, hub *StreamHub, opts ...AgentOption) *Agent {
	a := &Agent{
		registry:    registry,
		chain:       chain,
		selector:    selector,
		synthesizer: synthesizer,
		convos:      convos,
		hub:         hub,
		maxIter:     DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	return a
}

// Process runs one user message to completion. It never returns an error:
// any failure inside the loop converts to a terminal assistant message of
// the form "Error: <message>" and an Error event, leaving the conversation
// intact. Exactly one Complete or Error event is emitted per message.
func (a *Agent) Process(ctx context.Context, conversationID, userMessage string) {
	answer, err := a.run(ctx, conversationID, userMessage)
	if err != nil {
		a.logger.Error("agent run failed", "conversation", conversationID, "error", err)
		msg := "Error: " + err.Error()
		if _, appendErr := a.convos.Append(ctx, conversationID, RoleAssistant, msg); appendErr != nil {
			a.logger.Error("cannot store terminal error message",
				"conversation", conversationID, "error", appendErr)
		}
		a.hub.SendError(conversationID, msg)
		return
	}
	a.hub.SendComplete(conversationID, answer)
}

// run is the selection-execution cycle followed by synthesis.
func (a *Agent) run(ctx context.Context, conversationID, userMessage string) (answer string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent panic: %v", p)
		}
	}()

	if _, err := a.convos.Append(ctx, conversationID, RoleUser, userMessage); err != nil {
		return "", err
	}
	conv, err := a.convos.GetWithMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	tc := NewToolContext(&conv)

	a.hub.SendThinking(conv.ID, "Analyzing your request…")

	var toolsUsed []string
	prompt := a.initialPrompt(&conv, userMessage)

	for i := 0; i < a.maxIter; i++ {
		a.hub.SendThinking(conv.ID, "Processing…")

		resp, err := a.selector.Chat(ctx, ModelRequest{
			Prompt:         prompt,
			Label:          "selector",
			ConversationID: conv.ID,
		})
		if err != nil {
			return "", fmt.Errorf("selector: %w", err)
		}

		call, ok := parseToolCall(resp.Content)
		if !ok {
			break
		}

		toolsUsed = append(toolsUsed, call.Tool)
		a.hub.SendTool(conv.ID, call.Tool, "Executing…")
		res := a.ExecuteTool(ctx, call.Tool, call.Parameters, tc)
		status := "Completed"
		if !res.OK {
			status = "Failed"
		}
		a.hub.SendTool(conv.ID, call.Tool, status)

		prompt = a.followupPrompt(&conv, call.Tool, res)
	}

	a.hub.SendThinking(conv.ID, "Generating final response…")
	resp, err := a.synthesizer.Chat(ctx, ModelRequest{
		System:         modePreambles[conv.Mode],
		Prompt:         a.synthesisPrompt(&conv, toolsUsed),
		Label:          "synthesizer",
		ConversationID: conv.ID,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizer: %w", err)
	}

	answer = synthesisText(resp.Content)
	if _, err := a.convos.Append(ctx, conversationID, RoleAssistant, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// toolCall is the selector's parsed decision.
type toolCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// parseToolCall extracts the selector's JSON decision. The selector's
// output is not guaranteed to be pure JSON, so the heuristic takes the
// substring between the first '{' and the last '}'. Parse failure, or an
// object without a "tool" key, means "no tool call".
func parseToolCall(s string) (toolCall, bool) {
	obj, ok := extractJSON(s)
	if !ok {
		return toolCall{}, false
	}
	name, ok := obj["tool"].(string)
	if !ok || name == "" {
		return toolCall{}, false
	}
	params, _ := obj["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return toolCall{Tool: name, Parameters: params}, true
}

// extractJSON applies the first-'{'-to-last-'}' heuristic and unmarshals.
func extractJSON(s string) (map[string]any, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// synthesisText returns the "response" field of an embedded JSON object
// when present, or the raw text.
func synthesisText(s string) string {
	if obj, ok := extractJSON(s); ok {
		if r, ok := obj["response"].(string); ok && r != "" {
			return r
		}
	}
	return strings.TrimSpace(s)
}

// ExecuteTool resolves a tool, runs the interceptor chain around it,
// records the invocation, and applies alternative-tool augmentation when
// the user has signalled dissatisfaction and this is at least the second
// invocation of the tool in this conversation.
func (a *Agent) ExecuteTool(ctx context.Context, name string, params map[string]any, tc *ToolContext) Result {
	priorRuns := tc.ExecutionCount(name)
	res := a.executePrimary(ctx, name, params, tc)

	if !tc.HasNegativeFeedback() || priorRuns < 1 {
		return res
	}

	// Alternatives run directly, bypassing augmentation to prevent
	// recursion, with the same parameters as the primary.
	var sections []string
	for _, alt := range a.registry.Alternatives(name) {
		altRes := a.executePrimary(ctx, alt.Name, params, tc)
		if !altRes.OK {
			a.logger.Info("alternative tool failed, skipping",
				"primary", name, "alternative", alt.Name, "error", altRes.Message)
			continue
		}
		sections = append(sections, fmt.Sprintf(alternativeHeading, alt.Name)+altRes.Message)
	}
	if len(sections) > 0 {
		res.Message += alternativeSeparator + strings.Join(sections, "\n")
	}
	return res
}

// executePrimary is the un-augmented execution path: resolve, interceptors,
// execute, record.
func (a *Agent) executePrimary(ctx context.Context, name string, params map[string]any, tc *ToolContext) Result {
	t, ok := a.registry.Get(name)
	if !ok {
		return a.registry.UnknownToolFailure(name)
	}

	if err := a.chain.Before(ctx, t, tc); err != nil {
		res := Failure("Tool execution failed: %v", err)
		tc.Record(Invocation{Tool: name, Result: res})
		return res
	}

	res := a.runTool(ctx, t, params, tc)
	a.chain.After(ctx, t, tc, &res)
	tc.Record(Invocation{Tool: name, Result: res})
	return res
}

// runTool invokes the tool with panic recovery; a panic becomes a Failure,
// never a crashed worker.
func (a *Agent) runTool(ctx context.Context, t Tool, params map[string]any, tc *ToolContext) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Failure("tool %s panic: %v", t.Name, p)
		}
	}()
	return t.Execute(ctx, params, tc)
}

// --- prompt construction ---

func (a *Agent) initialPrompt(conv *Conversation, userMessage string) string {
	repo := conv.RepoURL
	if repo == "" {
		repo = "none"
	}
	var b strings.Builder
	b.WriteString("You select tools for a code assistant. Available tools:\n")
	b.WriteString(a.registry.Catalog())
	fmt.Fprintf(&b, "\nRepository: %s\n", repo)
	b.WriteString("\nRecent conversation:\n")
	writeHistory(&b, conv.Messages, initialHistoryMsgs, initialHistoryRunes)
	fmt.Fprintf(&b, "\nUser request: %s\n", userMessage)
	b.WriteString("\nRespond with a JSON object {\"tool\": \"<name>\", \"parameters\": {…}} " +
		"to call a tool, or {} when you have enough information to answer.")
	return b.String()
}

func (a *Agent) followupPrompt(conv *Conversation, tool string, res Result) string {
	var b strings.Builder
	b.WriteString("Available tools: ")
	b.WriteString(strings.Join(a.registry.Names(), ", "))
	b.WriteString("\n\nRecent conversation:\n")
	writeHistory(&b, conv.Messages, initialHistoryMsgs, followupHistoryRunes)
	fmt.Fprintf(&b, "\nLast tool called: %s (succeeded: %t)\n", tool, res.OK)
	if res.OK {
		fmt.Fprintf(&b, "Result: %s\n", truncate(resultData(res), followupDataRunes))
	} else {
		fmt.Fprintf(&b, "Error: %s\n", res.Message)
	}
	b.WriteString("\nRespond with a JSON object {\"tool\": \"<name>\", \"parameters\": {…}} " +
		"to call another tool, or {} when you have enough information to answer.")
	return b.String()
}

func (a *Agent) synthesisPrompt(conv *Conversation, toolsUsed []string) string {
	repo := conv.RepoURL
	if repo == "" {
		repo = "none"
	}
	var b strings.Builder
	b.WriteString("Conversation:\n")
	writeHistory(&b, conv.Messages, synthesisHistoryMsgs, synthesisHistoryRunes)
	fmt.Fprintf(&b, "\nRepository: %s\n", repo)
	fmt.Fprintf(&b, "Tools used: %s\n", strings.Join(toolsUsed, ", "))
	b.WriteString("\nCompose the final answer for the user. Ground every claim in the tool results above.")
	return b.String()
}

// writeHistory appends the last n messages, each truncated to maxRunes.
func writeHistory(b *strings.Builder, messages []Message, n, maxRunes int) {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	for _, m := range messages[start:] {
		fmt.Fprintf(b, "%s: %s\n", m.Role, truncate(m.Content, maxRunes))
	}
}

// resultData renders a result's data for the follow-up prompt. Falls back
// to the human message when the data does not marshal.
func resultData(res Result) string {
	if res.Data == nil {
		return res.Message
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return res.Message
	}
	return string(raw)
}

// truncate limits a string to n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

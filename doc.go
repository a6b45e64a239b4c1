// Package lattix is the core of a conversational code-assistant backend.
//
// A developer points the assistant at a source repository and asks questions
// or requests changes. The assistant answers by iteratively invoking tools
// (code search, dependency analysis, graph query, project discovery) against
// a pre-built code knowledge graph, then composes a final answer with a
// higher-quality model.
//
// The root package holds the domain: conversations and messages, the tool
// registry and execution context, the interceptor chain (including the
// repository lifecycle gate), the bounded agent loop, and the per-conversation
// event stream hub. Collaborators live in subpackages: git operations,
// indexing, graph and conversation stores, model providers, and the HTTP API.
package lattix

package lattix

import (
	"fmt"
	"testing"
)

func TestToolContextExecutionCountAndLastResult(t *testing.T) {
	tc := NewToolContext(&Conversation{ID: "c1"})

	if n := tc.ExecutionCount("search_code"); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
	if _, ok := tc.LastResult("search_code"); ok {
		t.Fatal("no result should exist yet")
	}

	tc.Record(Invocation{Tool: "search_code", Result: Success(nil, "first")})
	tc.Record(Invocation{Tool: "graph_query", Result: Failure("nope")})
	tc.Record(Invocation{Tool: "search_code", Result: Success(nil, "second")})

	if n := tc.ExecutionCount("search_code"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	res, ok := tc.LastResult("search_code")
	if !ok || res.Message != "second" {
		t.Fatalf("last result = %+v, %t", res, ok)
	}
	if res, _ := tc.LastResult("graph_query"); res.OK {
		t.Fatal("graph_query last result should be the failure")
	}
}

func TestToolContextHistoryBounded(t *testing.T) {
	tc := NewToolContext(&Conversation{ID: "c1"})
	for i := 0; i < invocationHistoryCap+25; i++ {
		tc.Record(Invocation{Tool: fmt.Sprintf("tool_%d", i)})
	}
	if len(tc.history) != invocationHistoryCap {
		t.Fatalf("history length = %d, want %d", len(tc.history), invocationHistoryCap)
	}
	// Oldest entries are evicted.
	if tc.history[0].Tool != "tool_25" {
		t.Fatalf("oldest retained = %s, want tool_25", tc.history[0].Tool)
	}
}

func TestHasNegativeFeedback(t *testing.T) {
	cases := []struct {
		name     string
		messages []Message
		want     bool
	}{
		{
			"improvement phrase in last user message",
			[]Message{{Role: RoleUser, Content: "Please be more THOROUGH"}},
			true,
		},
		{
			"satisfied user",
			[]Message{{Role: RoleUser, Content: "great, thanks!"}},
			false,
		},
		{
			"phrase within last three user messages",
			[]Message{
				{Role: RoleUser, Content: "can you expand on that?"},
				{Role: RoleAssistant, Content: "sure"},
				{Role: RoleUser, Content: "ok"},
				{Role: RoleAssistant, Content: "anything else?"},
				{Role: RoleUser, Content: "no"},
			},
			true,
		},
		{
			"phrase outside the three-message window",
			[]Message{
				{Role: RoleUser, Content: "give me more detail"},
				{Role: RoleUser, Content: "ok"},
				{Role: RoleUser, Content: "fine"},
				{Role: RoleUser, Content: "done"},
			},
			false,
		},
		{
			"assistant messages are ignored",
			[]Message{
				{Role: RoleAssistant, Content: "I could be more thorough"},
				{Role: RoleUser, Content: "no need"},
			},
			false,
		},
		{"no messages", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tc := NewToolContext(&Conversation{ID: "c1", Messages: c.messages})
			if got := tc.HasNegativeFeedback(); got != c.want {
				t.Fatalf("HasNegativeFeedback() = %t, want %t", got, c.want)
			}
		})
	}
}

func TestBindRepositoryDeduplicates(t *testing.T) {
	tc := NewToolContext(&Conversation{ID: "c1"})
	tc.BindRepository("r1")
	tc.BindRepository("r2")
	tc.BindRepository("r1")

	if tc.ActiveRepositoryID() != "r1" {
		t.Fatalf("active = %q, want r1", tc.ActiveRepositoryID())
	}
	if len(tc.RepositoryIDs) != 2 {
		t.Fatalf("ids = %v, want two distinct", tc.RepositoryIDs)
	}
}

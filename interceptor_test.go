package lattix

import (
	"context"
	"errors"
	"testing"
)

// recordingInterceptor logs its hook invocations into a shared trace.
type recordingInterceptor struct {
	name      string
	applies   bool
	beforeErr error
	afterFn   func(*Result)
	trace     *[]string
}

func (r *recordingInterceptor) AppliesTo(Tool) bool { return r.applies }

func (r *recordingInterceptor) BeforeExecute(context.Context, Tool, *ToolContext) error {
	*r.trace = append(*r.trace, "before:"+r.name)
	return r.beforeErr
}

func (r *recordingInterceptor) AfterExecute(_ context.Context, _ Tool, _ *ToolContext, res *Result) {
	*r.trace = append(*r.trace, "after:"+r.name)
	if r.afterFn != nil {
		r.afterFn(res)
	}
}

func TestChainRunsApplicableInterceptorsInOrder(t *testing.T) {
	var trace []string
	chain := NewInterceptorChain(nil,
		&recordingInterceptor{name: "one", applies: true, trace: &trace},
		&recordingInterceptor{name: "skipped", applies: false, trace: &trace},
		&recordingInterceptor{name: "two", applies: true, trace: &trace},
	)
	tool := Tool{Name: "t"}
	tc := NewToolContext(&Conversation{ID: "c1"})

	if err := chain.Before(context.Background(), tool, tc); err != nil {
		t.Fatal(err)
	}
	res := Success(nil, "ok")
	chain.After(context.Background(), tool, tc, &res)

	want := []string{"before:one", "before:two", "after:one", "after:two"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestChainBeforeErrorAborts(t *testing.T) {
	var trace []string
	boom := errors.New("repository unavailable")
	chain := NewInterceptorChain(nil,
		&recordingInterceptor{name: "one", applies: true, beforeErr: boom, trace: &trace},
		&recordingInterceptor{name: "two", applies: true, trace: &trace},
	)
	err := chain.Before(context.Background(), Tool{Name: "t"}, NewToolContext(&Conversation{}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(trace) != 1 {
		t.Fatalf("later interceptors must not run after a failure: %v", trace)
	}
}

func TestChainAfterPanicIsSwallowed(t *testing.T) {
	var trace []string
	chain := NewInterceptorChain(nil,
		&recordingInterceptor{name: "panicky", applies: true, trace: &trace,
			afterFn: func(*Result) { panic("after hook exploded") }},
		&recordingInterceptor{name: "steady", applies: true, trace: &trace},
	)
	res := Success(nil, "ok")
	// Must not panic, and the second interceptor still runs.
	chain.After(context.Background(), Tool{Name: "t"}, NewToolContext(&Conversation{}), &res)
	if len(trace) != 2 {
		t.Fatalf("trace = %v, want both after hooks", trace)
	}
}

func TestChainAfterCanRewriteResult(t *testing.T) {
	var trace []string
	chain := NewInterceptorChain(nil,
		&recordingInterceptor{name: "rewriter", applies: true, trace: &trace,
			afterFn: func(res *Result) { res.Message += " [annotated]" }},
	)
	res := Success(nil, "ok")
	chain.After(context.Background(), Tool{Name: "t"}, NewToolContext(&Conversation{}), &res)
	if res.Message != "ok [annotated]" {
		t.Fatalf("message = %q", res.Message)
	}
}

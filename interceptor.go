package lattix

import (
	"context"
	"fmt"
	"log/slog"
)

// Interceptor hooks tool execution. AppliesTo selects tools; BeforeExecute
// runs ahead of the tool and may abort it by returning an error;
// AfterExecute observes the result and may rewrite it in place.
type Interceptor interface {
	AppliesTo(t Tool) bool
	BeforeExecute(ctx context.Context, t Tool, tc *ToolContext) error
	AfterExecute(ctx context.Context, t Tool, tc *ToolContext, res *Result)
}

// InterceptorChain runs applicable interceptors in registration order.
// BeforeExecute failures abort execution; AfterExecute failures (including
// panics) are logged and never propagated.
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a chain. A nil logger discards diagnostics.
func NewInterceptorChain(logger *slog.Logger, interceptors ...Interceptor) *InterceptorChain {
	if logger == nil {
		logger = nopLogger
	}
	return &InterceptorChain{interceptors: interceptors, logger: logger}
}

// Add appends an interceptor.
func (c *InterceptorChain) Add(i Interceptor) {
	c.interceptors = append(c.interceptors, i)
}

// Before runs every applicable BeforeExecute in order. The first error
// aborts the chain and the tool.
func (c *InterceptorChain) Before(ctx context.Context, t Tool, tc *ToolContext) error {
	for _, i := range c.interceptors {
		if !i.AppliesTo(t) {
			continue
		}
		if err := i.BeforeExecute(ctx, t, tc); err != nil {
			return err
		}
	}
	return nil
}

// After runs every applicable AfterExecute in order. Panics are recovered
// and logged; the result passed to later interceptors is whatever the
// earlier ones left in place.
func (c *InterceptorChain) After(ctx context.Context, t Tool, tc *ToolContext, res *Result) {
	for _, i := range c.interceptors {
		if !i.AppliesTo(t) {
			continue
		}
		c.runAfter(ctx, i, t, tc, res)
	}
}

func (c *InterceptorChain) runAfter(ctx context.Context, i Interceptor, t Tool, tc *ToolContext, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Warn("after-execute interceptor panicked",
				"tool", t.Name, "panic", fmt.Sprint(p))
		}
	}()
	i.AfterExecute(ctx, t, tc, res)
}

package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/fitment-triage/internal/resilience"
)

// Guarded wraps a Completer with a shared rate limit, transient-error
// retries and a circuit breaker. It is safe for concurrent use.
type Guarded struct {
	next    Completer
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.Policy
}

// NewGuarded wraps next. A nil limiter or breaker disables that guard.
func NewGuarded(next Completer, limiter *rate.Limiter, breaker *resilience.CircuitBreaker, retry resilience.Policy) *Guarded {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetry("llm", "complete")
	}
	return &Guarded{next: next, limiter: limiter, breaker: breaker, retry: retry}
}

// Complete implements Completer.
func (g *Guarded) Complete(ctx context.Context, req Request) (*Response, error) {
	call := func(ctx context.Context) (*Response, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "llm: rate limit wait")
			}
		}
		return g.next.Complete(ctx, req)
	}

	attempt := func(ctx context.Context) (*Response, error) {
		if g.breaker == nil {
			return call(ctx)
		}
		return resilience.Call(ctx, g.breaker, call)
	}

	return resilience.Retry(ctx, g.retry, attempt)
}

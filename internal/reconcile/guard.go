package reconcile

import (
	"context"

	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
)

// GuardedRegistry wraps a Registry with a circuit breaker and
// transient-error retries. It is safe for concurrent use.
type GuardedRegistry struct {
	next    Registry
	breaker *resilience.CircuitBreaker
	retry   resilience.Policy
}

// NewGuardedRegistry wraps next. A nil breaker disables circuit breaking.
func NewGuardedRegistry(next Registry, breaker *resilience.CircuitBreaker, retry resilience.Policy) *GuardedRegistry {
	return &GuardedRegistry{next: next, breaker: breaker, retry: retry}
}

func guard[T any](ctx context.Context, g *GuardedRegistry, op string, fn func(context.Context) (T, error)) (T, error) {
	p := g.retry
	if p.OnRetry == nil {
		p.OnRetry = resilience.LogRetry("registry", op)
	}
	attempt := fn
	if g.breaker != nil {
		attempt = func(ctx context.Context) (T, error) {
			return resilience.Call(ctx, g.breaker, fn)
		}
	}
	return resilience.Retry(ctx, p, attempt)
}

// ActivePolicies implements Registry.
func (g *GuardedRegistry) ActivePolicies(ctx context.Context, idNumber string) ([]string, error) {
	return guard(ctx, g, "active_policies", func(ctx context.Context) ([]string, error) {
		return g.next.ActivePolicies(ctx, idNumber)
	})
}

// Vehicles implements Registry.
func (g *GuardedRegistry) Vehicles(ctx context.Context, policyNumber string) (map[int]model.CandidateVehicle, error) {
	return guard(ctx, g, "vehicles", func(ctx context.Context) (map[int]model.CandidateVehicle, error) {
		return g.next.Vehicles(ctx, policyNumber)
	})
}
